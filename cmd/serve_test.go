package cmd

import (
	"context"
	"testing"

	channelpkg "metricbridge/pkg/channel"
	"metricbridge/pkg/config"
	"metricbridge/pkg/logger"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Endpoint) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersBuildsConfiguredChannels(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.HTTP.Enabled = true
	cfg.Channels.Stdio.Enabled = true

	adapters, err := enabledAdapters(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "http,stdio" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "http,stdio")
	}
}

func TestEnabledAdaptersRejectsNegativePort(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.HTTP.Enabled = true
	cfg.Channels.HTTP.Port = -1

	if _, err := enabledAdapters(cfg, logger.Discard()); err == nil {
		t.Fatal("expected error for negative http port")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "http"}, testAdapter{name: "stdio"}}
	if got := enabledChannelNames(adapters); got != "http,stdio" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "http,stdio")
	}
}
