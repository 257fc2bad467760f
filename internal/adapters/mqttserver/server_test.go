package mqttserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildTLSConfigEmpty(t *testing.T) {
	cfg, err := BuildTLSConfig("", "", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config")
	}
}

func TestBuildTLSConfigRequiresPair(t *testing.T) {
	if _, err := BuildTLSConfig("", "cert.pem", ""); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestBuildTLSConfigRejectsBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := BuildTLSConfig(path, "", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewClientRequiresBroker(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("x", 3000)
	out := truncatePayload([]byte(long))
	if len(out) != 2048+3 || !strings.HasSuffix(out, "...") {
		t.Fatalf("unexpected truncation: %d", len(out))
	}
	if truncatePayload([]byte("ok")) != "ok" {
		t.Fatalf("short payload changed")
	}
}
