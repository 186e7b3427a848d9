package pipeline

import (
	"regexp"
	"strings"
)

// PreprocessResult records what preprocessing did to a prompt, so the
// pipeline can report whether it ran and what it changed.
type PreprocessResult struct {
	Text        string
	Compressed  bool
	Summarised  bool
	Truncated   bool
	OriginalLen int
}

var (
	lineCommentRe  = regexp.MustCompile(`(?m)//[^\n]*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	hashCommentRe  = regexp.MustCompile(`(?m)#[^\n]*$`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	whitespaceRe   = regexp.MustCompile(`[ \t]+`)
)

// Preprocess reduces text to fit within tokenizer's MaxTokens, first by
// deterministic compression, then by extractive summarisation if still
// over 80% of the cap, then by hard truncation with a trailing marker
// if even that does not suffice. Preprocessing is idempotent: running
// it twice on its own output returns the output unchanged.
func Preprocess(text string, tokenizer Tokenizer, compressionThreshold, summaryKeepFraction float64, minSentences int) (PreprocessResult, error) {
	result := PreprocessResult{Text: text, OriginalLen: len(text)}

	count, err := tokenizer.CountTokens(text)
	if err != nil {
		return result, err
	}
	capTokens := tokenizer.MaxTokens()
	if count <= capTokens {
		return result, nil
	}

	compressed := compress(text)
	result.Text = compressed
	result.Compressed = compressed != text

	count, err = tokenizer.CountTokens(result.Text)
	if err != nil {
		return result, err
	}

	threshold := int(float64(capTokens) * compressionThreshold)
	if count > threshold {
		summarised := summarise(result.Text, summaryKeepFraction, minSentences)
		if summarised != result.Text {
			result.Text = summarised
			result.Summarised = true
			count, err = tokenizer.CountTokens(result.Text)
			if err != nil {
				return result, err
			}
		}
	}

	if count > capTokens {
		result.Text = truncateToApprox(result.Text, capTokens, tokenizer)
		result.Truncated = true
	}

	return result, nil
}

// compress strips line and block comments and collapses redundant
// whitespace. It is a best-effort textual pass, not a parser: a
// comment-like marker inside a string literal is stripped like any
// other, along with the text after it; callers accept that tradeoff for
// the deterministic, cheap cost.
func compress(text string) string {
	out := blockCommentRe.ReplaceAllString(text, "")
	out = lineCommentRe.ReplaceAllString(out, "")
	out = hashCommentRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")

	lines := strings.Split(out, "\n")
	trimmed := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed = append(trimmed, strings.TrimRight(l, " \t"))
	}
	return strings.TrimSpace(strings.Join(trimmed, "\n"))
}

var sentenceBoundary = regexp.MustCompile(`(?s)[^.!?]*[.!?]+`)

var keywordWeight = map[string]float64{
	"error": 1, "must": 1, "should": 1, "important": 1.5, "note": 1,
	"warning": 1.5, "required": 1.2, "invariant": 1.5, "fail": 1,
}

// summarise ranks sentences by position, keyword density, and an
// inverse length penalty, then keeps the top summaryKeepFraction of
// them (never fewer than minSentences), preserving their original
// order so the result still reads linearly.
func summarise(text string, keepFraction float64, minSentences int) string {
	sentences := splitSentences(text)
	if len(sentences) <= minSentences {
		return text
	}

	n := len(sentences)
	scoredSentences := make([]scoredSentence, n)
	for i, s := range sentences {
		positionScore := 1.0 - float64(i)/float64(n) // earlier sentences score higher
		keywordScore := keywordDensity(s)
		lengthPenalty := float64(len(s)) / 500.0
		scoredSentences[i] = scoredSentence{idx: i, text: s, score: positionScore + keywordScore - lengthPenalty}
	}

	keep := int(float64(n) * keepFraction)
	if keep < minSentences {
		keep = minSentences
	}
	if keep >= n {
		return text
	}

	ranked := append([]scoredSentence(nil), scoredSentences...)
	sortByScoreDesc(ranked)
	ranked = ranked[:keep]

	sortByIndexAsc(ranked)

	var b strings.Builder
	for i, s := range ranked {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(s.text))
	}
	return b.String()
}

func splitSentences(text string) []string {
	matches := sentenceBoundary.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, text)
	}
	return out
}

func keywordDensity(sentence string) float64 {
	lower := strings.ToLower(sentence)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}
	var weight float64
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if kw, ok := keywordWeight[w]; ok {
			weight += kw
		}
	}
	return weight / float64(len(words))
}

type scoredSentence = struct {
	idx   int
	text  string
	score float64
}

func sortByScoreDesc(s []scoredSentence) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func sortByIndexAsc(s []scoredSentence) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].idx < s[j-1].idx; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

const truncationMarker = "\n... [truncated]"

// truncateToApprox cuts text down until the tokenizer reports it fits,
// appending a marker so the caller knows truncation occurred.
func truncateToApprox(text string, capTokens int, tokenizer Tokenizer) string {
	lo, hi := 0, len(text)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := text[:mid] + truncationMarker
		count, err := tokenizer.CountTokens(candidate)
		if err != nil || count > capTokens {
			hi = mid - 1
			continue
		}
		best = candidate
		lo = mid + 1
	}
	if best == "" {
		return truncationMarker
	}
	return best
}
