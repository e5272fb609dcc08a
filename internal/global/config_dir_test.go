package global

import "testing"

func TestDefaultConfigDir_UsesOverride(t *testing.T) {
	t.Setenv("SITECREW_CONFIG_DIR", "/tmp/sitecrew-config-test")
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != "/tmp/sitecrew-config-test" {
		t.Fatalf("expected override path, got %q", got)
	}
}
