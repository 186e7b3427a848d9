package router

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	req := &Request{Prompt: "hello", Options: Options{MaxTokens: 100}}
	if Fingerprint(req) != Fingerprint(req) {
		t.Fatal("fingerprint is not deterministic")
	}
}

func TestFingerprintIgnoresRequestID(t *testing.T) {
	req1 := &Request{RequestID: "one", Prompt: "hello"}
	req2 := &Request{RequestID: "two", Prompt: "hello"}
	if Fingerprint(req1) != Fingerprint(req2) {
		t.Fatal("fingerprint must not depend on RequestID")
	}
}

func TestFingerprintDiffersOnPrompt(t *testing.T) {
	req1 := &Request{Prompt: "hello"}
	req2 := &Request{Prompt: "goodbye"}
	if Fingerprint(req1) == Fingerprint(req2) {
		t.Fatal("fingerprint must depend on prompt")
	}
}

func TestFingerprintIgnoresSkipCache(t *testing.T) {
	req1 := &Request{Prompt: "hello", Options: Options{SkipCache: false}}
	req2 := &Request{Prompt: "hello", Options: Options{SkipCache: true}}
	if Fingerprint(req1) != Fingerprint(req2) {
		t.Fatal("fingerprint must not depend on SkipCache, it does not affect output")
	}
}
