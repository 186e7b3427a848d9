package pipeline

import (
	"strings"
	"testing"
)

func TestPreprocessNoopBelowCap(t *testing.T) {
	tok := NewEstimatorTokenizer(1000)
	result, err := Preprocess("short prompt", tok, 0.8, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.Compressed || result.Summarised || result.Truncated {
		t.Fatal("expected no preprocessing below cap")
	}
	if result.Text != "short prompt" {
		t.Fatalf("text changed unexpectedly: %q", result.Text)
	}
}

func TestPreprocessCompressesComments(t *testing.T) {
	tok := NewEstimatorTokenizer(5)
	text := "// a leading comment\ncode line one\ncode line two"
	result, err := Preprocess(text, tok, 0.8, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(result.Text, "leading comment") {
		t.Fatal("expected comment to be stripped")
	}
}

func TestPreprocessIsIdempotent(t *testing.T) {
	tok := NewEstimatorTokenizer(20)
	text := strings.Repeat("This sentence has some important words. ", 30)

	first, err := Preprocess(text, tok, 0.8, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Preprocess(first.Text, tok, 0.8, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first.Text != second.Text {
		t.Fatalf("preprocessing is not idempotent:\nfirst:  %q\nsecond: %q", first.Text, second.Text)
	}
}

func TestPreprocessTruncatesWhenStillOverCap(t *testing.T) {
	tok := NewEstimatorTokenizer(3)
	text := strings.Repeat("word ", 200)
	result, err := Preprocess(text, tok, 0.8, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Truncated {
		t.Fatal("expected truncation for a drastically oversized prompt")
	}
	if !strings.HasSuffix(result.Text, "[truncated]") {
		t.Fatalf("expected truncation marker, got %q", result.Text)
	}
}

func TestSummariseKeepsMinimumSentences(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	out := summarise(text, 0.1, 2)
	if len(splitSentences(out)) < 2 {
		t.Fatalf("expected at least 2 sentences retained, got %q", out)
	}
}

func TestCompressStripsBlockComments(t *testing.T) {
	text := "before /* block\ncomment */ after"
	out := compress(text)
	if strings.Contains(out, "block") {
		t.Fatalf("expected block comment removed, got %q", out)
	}
}
