package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/config"
)

func TestVersionFlag(t *testing.T) {
	cmd, err := newRootCommand()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Failed to run --version: %v", err)
	}

	if !strings.Contains(out.String(), "ethengine") || !strings.Contains(out.String(), version) {
		t.Errorf("Expected version output to contain 'ethengine' and %q, got: %s", version, out.String())
	}
}

func TestMissingWebsocketURL(t *testing.T) {
	t.Setenv("WEBSOCKET_URL", "")
	t.Setenv("ETH_ENGINE_WEBSOCKET_URL", "")

	cmd, err := newRootCommand()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "error"})

	err = cmd.Execute()
	if err == nil {
		t.Fatal("Expected an error without a websocket URL")
	}
	if !strings.Contains(err.Error(), config.ErrMissingWebsocketURL.Error()) {
		t.Errorf("Expected missing websocket error, got: %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cmd, err := newRootCommand()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "--websocket-url", "ws://localhost:8546"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected an error for an unknown log level")
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cmd, err := newRootCommand()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if err := cmd.Flags().Parse([]string{"--redis-port", "7000", "--registry-backend", "memory"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	port, _ := cmd.Flags().GetInt("redis-port")
	if port != 7000 {
		t.Errorf("Expected redis port 7000, got %d", port)
	}
	backend, _ := cmd.Flags().GetString("registry-backend")
	if backend != config.BackendMemory {
		t.Errorf("Expected memory backend, got %s", backend)
	}
}
