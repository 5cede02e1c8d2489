package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snowfight.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadOverrides verifies YAML values replace the defaults and
// unspecified fields keep them.
func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":4000"
retransmit_interval: 80ms
idle_timeout: 20s
packet_loss: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != ":4000" {
		t.Errorf("ListenAddr = %q, want :4000", cfg.ListenAddr)
	}
	if cfg.RetransmitInterval != 80*time.Millisecond {
		t.Errorf("RetransmitInterval = %v, want 80ms", cfg.RetransmitInterval)
	}
	if cfg.IdleTimeout != 20*time.Second {
		t.Errorf("IdleTimeout = %v, want 20s", cfg.IdleTimeout)
	}
	if cfg.PacketLoss != 0.25 {
		t.Errorf("PacketLoss = %v, want 0.25", cfg.PacketLoss)
	}
	if cfg.ServerAddr != Default().ServerAddr {
		t.Errorf("ServerAddr = %q, want default", cfg.ServerAddr)
	}
	if cfg.TickInterval != Default().TickInterval {
		t.Errorf("TickInterval = %v, want default", cfg.TickInterval)
	}
}

// TestLoadRejectsBadValues covers the validation errors.
func TestLoadRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"unparsable duration", "tick_interval: fast\n"},
		{"tick out of range", "tick_interval: 5ms\n"},
		{"loss out of range", "packet_loss: 1.5\n"},
		{"not yaml", ": : :\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

// TestLoadMissingFile reports the read failure.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
