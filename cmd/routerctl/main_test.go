package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	router "github.com/modelmesh/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var stderr bytes.Buffer
	code := run(nil, nil, nil, &stderr)
	assert.Equal(t, exitGeneric, code)
	assert.Contains(t, stderr.String(), "Usage:")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"bogus"}, nil, nil, &stderr)
	assert.Equal(t, exitGeneric, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRun_Help(t *testing.T) {
	var stdout bytes.Buffer
	code := run([]string{"help"}, nil, &stdout, nil)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "routerctl")
}

func TestCmdStatus_NoBackendsConfigured(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "router.yaml")
	dsn := "file:" + filepath.Join(dir, "ledger.db") + "?mode=rwc&_foreign_keys=on"
	require.NoError(t, os.WriteFile(cfgPath, []byte("ledger:\n  dsn: \""+dsn+"\"\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := cmdStatus([]string{"--config", cfgPath}, &stdout, &stderr)
	// With zero configured backends, status reports no healthy backend.
	assert.Equal(t, exitNoHealthy, code)
}

func TestReportCompleteError_MapsExitCodes(t *testing.T) {
	cases := []struct {
		code router.Code
		want int
	}{
		{router.CodeConfiguration, exitConfiguration},
		{router.CodeNoHealthyBackend, exitNoHealthy},
		{router.CodeRequestTimeout, exitTimeout},
		{router.CodeBackendTimeout, exitTimeout},
		{router.CodeInvalidInput, exitGeneric},
	}
	for _, c := range cases {
		var stderr bytes.Buffer
		got := reportCompleteError(router.NewError(c.code, "boom"), &stderr)
		assert.Equal(t, c.want, got, "code %s", c.code)
		assert.Contains(t, stderr.String(), "boom")
	}
}

func TestReportCompleteError_NonRouterError(t *testing.T) {
	var stderr bytes.Buffer
	got := reportCompleteError(newPlainError("plain failure"), &stderr)
	assert.Equal(t, exitGeneric, got)
}

type plainError string

func (e plainError) Error() string { return string(e) }

func newPlainError(msg string) error { return plainError(msg) }

func TestAsRouterError_UnwrapsWrapped(t *testing.T) {
	inner := router.NewError(router.CodeBackendTransient, "transient")
	wrapped := wrapErr{inner}

	var out *router.Error
	ok := asRouterError(wrapped, &out)
	assert.True(t, ok)
	assert.Equal(t, router.CodeBackendTransient, out.Code)
}

type wrapErr struct{ err error }

func (w wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w wrapErr) Unwrap() error { return w.err }
