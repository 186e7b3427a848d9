// Command routerctl is a thin operator front end over the router
// library: it loads configuration, wires an Orchestrator, and exposes
// just enough of it (status, complete, health) to pin the exit-code
// contract an embedding service is expected to honor. It is not a
// transport server; a production front end talks to the Orchestrator
// directly rather than shelling out to this binary.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	router "github.com/modelmesh/router"
	"github.com/modelmesh/router/config"
	"github.com/modelmesh/router/internal/telemetry"
)

const (
	exitOK            = 0
	exitGeneric       = 1
	exitConfiguration = 2
	exitNoHealthy     = 3
	exitTimeout       = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitGeneric
	}

	switch args[0] {
	case "status":
		return cmdStatus(args[1:], stdout, stderr)
	case "complete":
		return cmdComplete(args[1:], stdin, stdout, stderr)
	case "health":
		return cmdHealth(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitGeneric
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `routerctl - AI backend routing middleware operator CLI

Usage:
  routerctl <command> [options]

Commands:
  status                     Print backend health and configuration report
  complete [prompt]          Run one completion (reads stdin if prompt omitted)
  health [--backend name]    Print cached backend health (does not wait for a probe)
  help                       Show this help message

Common options:
  --config path              Path to YAML configuration file
  --dev                      Enable the mock last-resort fallback backend

Options for 'complete':
  --backend name              Force a single backend
  --max-tokens n               Bound completion length
  --temperature f               Sampling temperature (0.0-1.0)
  --model name                 Upstream model override
  --bypass-cache                Skip the response cache
  --bypass-optimization         Skip preprocessing (raw passthrough)
  --timeout duration             Whole-pipeline deadline (e.g. 30s)

Exit codes: 0 success, 1 generic failure, 2 configuration error,
3 no healthy backend, 4 timeout.
`)
}

// loadAndBuild loads configuration from configPath (if non-empty) and
// wires an Orchestrator from it. The returned notes are Validate's
// human-readable auto-corrections.
func loadAndBuild(configPath string, devMode bool) (*router.Orchestrator, []string, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, notes, err := loader.Load()
	if err != nil {
		return nil, notes, err
	}

	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, notes, err
	}

	orch, _, err := buildOrchestrator(cfg, logger, devMode)
	if err != nil {
		return nil, notes, err
	}
	return orch, notes, nil
}

func cmdStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file")
	devMode := fs.Bool("dev", false, "enable the mock last-resort fallback backend")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}

	orch, notes, err := loadAndBuild(*configPath, *devMode)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfiguration
	}
	defer orch.Cleanup()

	for _, n := range notes {
		fmt.Fprintf(stdout, "note: %s\n", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reports := orch.Status(ctx)
	anyHealthy := false
	for _, r := range reports {
		fmt.Fprintf(stdout, "%-20s enabled=%-5v healthy=%-5v breaker=%-10s latency=%s\n",
			r.Name, r.Enabled, r.Healthy, r.BreakerState, r.LatencyScore)
		for _, issue := range r.ConfigIssues {
			fmt.Fprintf(stdout, "  issue: %s\n", issue)
		}
		if r.Healthy {
			anyHealthy = true
		}
	}

	for _, n := range orch.ConfigValidationReport() {
		fmt.Fprintf(stdout, "config: %s\n", n)
	}

	if !anyHealthy {
		return exitNoHealthy
	}
	return exitOK
}

func cmdHealth(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file")
	devMode := fs.Bool("dev", false, "enable the mock last-resort fallback backend")
	backend := fs.String("backend", "", "report only this backend")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}

	orch, _, err := loadAndBuild(*configPath, *devMode)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfiguration
	}
	defer orch.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	anyHealthy := false
	found := false
	for _, r := range orch.Status(ctx) {
		if *backend != "" && r.Name != *backend {
			continue
		}
		found = true
		fmt.Fprintf(stdout, "%s: healthy=%v breaker=%s\n", r.Name, r.Healthy, r.BreakerState)
		if r.Healthy {
			anyHealthy = true
		}
	}
	if *backend != "" && !found {
		fmt.Fprintf(stderr, "unknown backend: %s\n", *backend)
		return exitConfiguration
	}

	if !anyHealthy {
		return exitNoHealthy
	}
	return exitOK
}

func cmdComplete(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file")
	devMode := fs.Bool("dev", false, "enable the mock last-resort fallback backend")
	backend := fs.String("backend", "", "force a single backend")
	maxTokens := fs.Int("max-tokens", 0, "bound completion length")
	temperature := fs.Float64("temperature", 0, "sampling temperature")
	model := fs.String("model", "", "upstream model override")
	bypassCache := fs.Bool("bypass-cache", false, "skip the response cache")
	bypassOptimization := fs.Bool("bypass-optimization", false, "skip preprocessing")
	timeout := fs.Duration("timeout", 0, "whole-pipeline deadline")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}

	var prompt string
	if fs.NArg() > 0 {
		prompt = strings.Join(fs.Args(), " ")
	} else {
		data, err := io.ReadAll(bufio.NewReader(stdin))
		if err != nil {
			fmt.Fprintf(stderr, "read stdin: %v\n", err)
			return exitGeneric
		}
		prompt = strings.TrimRight(string(data), "\n")
	}

	orch, _, err := loadAndBuild(*configPath, *devMode)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfiguration
	}
	defer orch.Cleanup()

	req := &router.Request{
		Prompt: prompt,
		Options: router.Options{
			PreferBackend: *backend,
			MaxTokens:     *maxTokens,
			Temperature:   *temperature,
			Model:         *model,
			SkipCache:     *bypassCache,
			RawMode:       *bypassOptimization,
			Timeout:       *timeout,
		},
	}

	ctx := context.Background()
	resp, err := orch.Complete(ctx, req)
	if err != nil {
		return reportCompleteError(err, stderr)
	}

	fmt.Fprintln(stdout, resp.Text)
	return exitOK
}

func reportCompleteError(err error, stderr io.Writer) int {
	var rerr *router.Error
	if !asRouterError(err, &rerr) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitGeneric
	}

	fmt.Fprintf(stderr, "error: %s\n", rerr.Error())
	switch rerr.Code {
	case router.CodeConfiguration:
		return exitConfiguration
	case router.CodeNoHealthyBackend:
		return exitNoHealthy
	case router.CodeRequestTimeout, router.CodeBackendTimeout:
		return exitTimeout
	default:
		return exitGeneric
	}
}

// asRouterError walks err's Unwrap chain looking for a *router.Error,
// the same way the pipeline's own classifier does.
func asRouterError(err error, target **router.Error) bool {
	for err != nil {
		if e, ok := err.(*router.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
