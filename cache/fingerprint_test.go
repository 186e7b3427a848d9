package cache

import (
	"testing"

	router "github.com/modelmesh/router"
	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	req := &router.Request{Prompt: "hello", Options: router.Options{MaxTokens: 100}}
	a := Fingerprint(req)
	b := Fingerprint(req)
	assert.Equal(t, a, b)
}

func TestFingerprintIgnoresRequestID(t *testing.T) {
	req1 := &router.Request{RequestID: "one", Prompt: "hello"}
	req2 := &router.Request{RequestID: "two", Prompt: "hello"}
	assert.Equal(t, Fingerprint(req1), Fingerprint(req2))
}

func TestFingerprintDiffersOnPrompt(t *testing.T) {
	req1 := &router.Request{Prompt: "hello"}
	req2 := &router.Request{Prompt: "goodbye"}
	assert.NotEqual(t, Fingerprint(req1), Fingerprint(req2))
}

func TestFingerprintDiffersOnFiles(t *testing.T) {
	req1 := &router.Request{Prompt: "hello"}
	req2 := &router.Request{Prompt: "hello", Files: []router.File{{Name: "a.txt", Data: []byte("x")}}}
	assert.NotEqual(t, Fingerprint(req1), Fingerprint(req2))
}
