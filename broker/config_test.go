package broker

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadConfigAcceptsRequiredKeys(t *testing.T) {
	src := strings.NewReader(`
# comment line
id: fieldwatchd-1
ip: 127.0.0.1
port: 1883
maximum_threads: 4
log_path: /var/log/fieldwatchd.log
log_in_terminal: true
`)
	cfg, err := LoadConfig(src)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ID != "fieldwatchd-1" || cfg.Port != 1883 || cfg.MaximumThreads != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Addr() != "127.0.0.1:1883" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	src := strings.NewReader("id: x\nip: 0.0.0.0\nport: 1\nmaximum_threads: 1\nlog_path: x\nbogus: 1\n")
	_, err := LoadConfig(src)
	if !errors.Is(err, ErrConfigUnknownKey) {
		t.Fatalf("want ErrConfigUnknownKey, got %v", err)
	}
}

func TestLoadConfigRejectsMissingRequiredKey(t *testing.T) {
	src := strings.NewReader("id: x\nip: 0.0.0.0\n")
	_, err := LoadConfig(src)
	if !errors.Is(err, ErrConfigMissingKey) {
		t.Fatalf("want ErrConfigMissingKey, got %v", err)
	}
}

func TestLoadConfigRejectsNonPositiveThreads(t *testing.T) {
	src := strings.NewReader("id: x\nip: 0.0.0.0\nport: 1\nmaximum_threads: 0\nlog_path: x\n")
	_, err := LoadConfig(src)
	if !errors.Is(err, ErrConfigInvalidType) {
		t.Fatalf("want ErrConfigInvalidType, got %v", err)
	}
}
