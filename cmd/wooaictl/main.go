package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wooai/wooai/internal/cli/wooaictl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("WOOAI_CLI_TIMEOUT")), 30*time.Second)
	options := wooaictl.Options{
		BaseURL:  envOr("WOOAI_API_URL", "http://localhost:8080"),
		APIKey:   strings.TrimSpace(os.Getenv("WOOAI_API_KEY")),
		TenantID: strings.TrimSpace(os.Getenv("WOOAI_TENANT_ID")),
		Timeout:  timeout,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := wooaictl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid WOOAI_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
