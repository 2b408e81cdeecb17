package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/config"
)

func TestApplyStreamFlags(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		addStreamFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		return cmd
	}

	cfg := config.Defaults(t.TempDir())
	applyStreamFlags(newCmd("--url", "http://hub:9000/events"), &cfg)
	assert.Equal(t, "sse", cfg.Stream.Transport)
	assert.Equal(t, "http://hub:9000/events", cfg.Stream.URL)

	cfg = config.Defaults(t.TempDir())
	applyStreamFlags(newCmd("--transport", "nats", "--url", "nats://bus:4222"), &cfg)
	assert.Equal(t, "nats", cfg.Stream.Transport)
	assert.Equal(t, "nats://bus:4222", cfg.Stream.NATSURL)
	assert.Equal(t, "http://localhost:8080/events", cfg.Stream.URL)
}

func TestNewTransport(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	_, err := newTransport(&cfg)
	require.NoError(t, err)

	cfg.Stream.Transport = "carrier-pigeon"
	_, err = newTransport(&cfg)
	assert.Error(t, err)
}

func TestPickWorkflow(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	wf, err := pickWorkflow(cat, "")
	require.NoError(t, err)
	assert.Equal(t, cat.List()[0].ID, wf.ID)

	wf, err = pickWorkflow(cat, "kommo-webhook")
	require.NoError(t, err)
	assert.Equal(t, "kommo-webhook", wf.ID)

	_, err = pickWorkflow(cat, "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = pickWorkflow(catalog.New(), "")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
