package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.CursorCLIPath != "cursor" {
		t.Errorf("CursorCLIPath = %q, want %q", cfg.CursorCLIPath, "cursor")
	}
	if cfg.CursorCLIMaxConcurrent != 5 {
		t.Errorf("CursorCLIMaxConcurrent = %d, want 5", cfg.CursorCLIMaxConcurrent)
	}
	if cfg.TTLSeconds != 3600 {
		t.Errorf("TTLSeconds = %d, want 3600", cfg.TTLSeconds)
	}
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := LoadServerConfig(v)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.MaxIterations)
	}
}

func TestLoadServerConfigEnvOverride(t *testing.T) {
	t.Setenv("CURSOR_RUNNER_CURSOR_CLI_PATH", "/usr/local/bin/cursor")
	t.Setenv("CURSOR_RUNNER_MAX_ITERATIONS", "3")

	v := viper.New()
	cfg, err := LoadServerConfig(v)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.CursorCLIPath != "/usr/local/bin/cursor" {
		t.Errorf("CursorCLIPath = %q, want override", cfg.CursorCLIPath)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", cfg.MaxIterations)
	}
}

func TestValidateClampsCeilings(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxIterations = 100
	cfg.CursorCLITimeoutMS = 7_200_000

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxIterations != 25 {
		t.Errorf("MaxIterations clamp = %d, want 25", cfg.MaxIterations)
	}
	if cfg.CursorCLITimeoutMS != 3_600_000 {
		t.Errorf("CursorCLITimeoutMS clamp = %d, want 3600000", cfg.CursorCLITimeoutMS)
	}
}

func TestValidateRejectsNonPositiveConcurrency(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.CursorCLIMaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestUsePTYPointer(t *testing.T) {
	cfg := DefaultServerConfig()

	cfg.CursorCLIUsePTY = "auto"
	if p := cfg.UsePTYPointer(); p != nil {
		t.Errorf("auto: got %v, want nil", *p)
	}

	cfg.CursorCLIUsePTY = "true"
	if p := cfg.UsePTYPointer(); p == nil || !*p {
		t.Error("true: want pointer to true")
	}

	cfg.CursorCLIUsePTY = "false"
	if p := cfg.UsePTYPointer(); p == nil || *p {
		t.Error("false: want pointer to false")
	}
}
