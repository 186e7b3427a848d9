package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// fingerprintInput is the subset of a request that determines whether
// two requests may share a cached response, or be recognised as "the
// same request" by the ledger: the prompt, the file manifest and the
// output-affecting options. Fields like RequestID or SkipCache never
// participate, since they do not influence the response.
type fingerprintInput struct {
	Prompt      string
	Files       []fileDigest
	MaxTokens   int
	Temperature float64
	Model       string
	Backend     string
	Tags        []string
}

type fileDigest struct {
	Name string
	Hash string
}

// Fingerprint computes the deterministic key that identifies req for
// caching and ledger accounting: the response cache keys on it (see
// cache.Fingerprint, which delegates here) and every ledger entry
// records it, satisfying the invariant that two requests with equal
// fingerprints yield equal cache keys and that a served request's
// ledger entry always carries fp(request).
func Fingerprint(req *Request) string {
	files := make([]fileDigest, 0, len(req.Files))
	for _, f := range req.Files {
		sum := sha256.Sum256(f.Data)
		files = append(files, fileDigest{Name: f.Name, Hash: hex.EncodeToString(sum[:])})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	tags := append([]string(nil), req.Options.Tags...)
	sort.Strings(tags)

	input := fingerprintInput{
		Prompt:      req.Prompt,
		Files:       files,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		Model:       req.Options.Model,
		Backend:     req.Options.PreferBackend,
		Tags:        tags,
	}

	data, err := json.Marshal(input)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", input))
	}
	sum := sha256.Sum256(data)
	return "respcache:" + hex.EncodeToString(sum[:16])
}
