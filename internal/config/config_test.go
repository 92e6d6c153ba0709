package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Run("existing env var", func(t *testing.T) {
		t.Setenv("TEST_GET_ENV", "test_value")
		if got := getEnv("TEST_GET_ENV", "default"); got != "test_value" {
			t.Errorf("getEnv() = %q, want %q", got, "test_value")
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		if got := getEnv("TEST_MISSING_VAR", "default_value"); got != "default_value" {
			t.Errorf("getEnv() = %q, want %q", got, "default_value")
		}
	})

	t.Run("empty env var", func(t *testing.T) {
		t.Setenv("TEST_EMPTY_VAR", "")
		if got := getEnv("TEST_EMPTY_VAR", "default"); got != "default" {
			t.Errorf("getEnv() = %q, want %q (empty should use default)", got, "default")
		}
	})
}

func TestGetEnvInt(t *testing.T) {
	t.Run("valid integer", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")
		if got := getEnvInt("TEST_INT", 0); got != 42 {
			t.Errorf("getEnvInt() = %d, want 42", got)
		}
	})

	t.Run("invalid integer", func(t *testing.T) {
		t.Setenv("TEST_INT_INVALID", "not-a-number")
		if got := getEnvInt("TEST_INT_INVALID", 99); got != 99 {
			t.Errorf("getEnvInt() = %d, want 99 (default)", got)
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		if got := getEnvInt("TEST_INT_MISSING", 100); got != 100 {
			t.Errorf("getEnvInt() = %d, want 100 (default)", got)
		}
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("valid duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "90s")
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
			t.Errorf("getEnvDuration() = %v, want 90s", got)
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION_INVALID", "soon")
		if got := getEnvDuration("TEST_DURATION_INVALID", time.Minute); got != time.Minute {
			t.Errorf("getEnvDuration() = %v, want 1m (default)", got)
		}
	})
}

func TestGetEnvSlice(t *testing.T) {
	t.Run("comma separated", func(t *testing.T) {
		t.Setenv("TEST_SLICE", "a,b,c")
		got := getEnvSlice("TEST_SLICE", nil)
		if len(got) != 3 || got[0] != "a" || got[2] != "c" {
			t.Errorf("getEnvSlice() = %v, want [a b c]", got)
		}
	})

	t.Run("missing uses default", func(t *testing.T) {
		got := getEnvSlice("TEST_SLICE_MISSING", []string{"x"})
		if len(got) != 1 || got[0] != "x" {
			t.Errorf("getEnvSlice() = %v, want [x]", got)
		}
	})
}

func TestGetEnvWithFallback(t *testing.T) {
	t.Run("primary wins", func(t *testing.T) {
		t.Setenv("TEST_FB_PRIMARY", "primary")
		t.Setenv("TEST_FB_SECONDARY", "secondary")
		if got := getEnvWithFallback("TEST_FB_PRIMARY", "TEST_FB_SECONDARY", "d"); got != "primary" {
			t.Errorf("getEnvWithFallback() = %q, want primary", got)
		}
	})

	t.Run("fallback used", func(t *testing.T) {
		t.Setenv("TEST_FB_SECONDARY", "secondary")
		if got := getEnvWithFallback("TEST_FB_UNSET", "TEST_FB_SECONDARY", "d"); got != "secondary" {
			t.Errorf("getEnvWithFallback() = %q, want secondary", got)
		}
	})

	t.Run("default used", func(t *testing.T) {
		if got := getEnvWithFallback("TEST_FB_UNSET", "TEST_FB_ALSO_UNSET", "d"); got != "d" {
			t.Errorf("getEnvWithFallback() = %q, want d", got)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.WorkerPollInterval != 30*time.Second {
		t.Errorf("WorkerPollInterval = %v, want 30s", cfg.WorkerPollInterval)
	}
	if cfg.StaleRunMaxAge != 30*time.Minute {
		t.Errorf("StaleRunMaxAge = %v, want 30m", cfg.StaleRunMaxAge)
	}
	if cfg.JWTExpiry != 12*time.Hour {
		t.Errorf("JWTExpiry = %v, want 12h", cfg.JWTExpiry)
	}
	if cfg.WorkerShutdownGracePeriod != 5*time.Minute {
		t.Errorf("WorkerShutdownGracePeriod = %v, want 5m", cfg.WorkerShutdownGracePeriod)
	}
	if cfg.StorageEnabled {
		t.Error("StorageEnabled = true without bucket and endpoint")
	}
	// An ephemeral secret is generated for local development.
	if cfg.JWTSecret == "" {
		t.Error("JWTSecret should never be empty after Load")
	}
}

func TestLoad_StorageEnablement(t *testing.T) {
	t.Run("bucket without endpoint stays disabled", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "snapshots")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.StorageEnabled {
			t.Error("StorageEnabled = true without an endpoint")
		}
	})

	t.Run("bucket and endpoint enable storage", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "snapshots")
		t.Setenv("AWS_ENDPOINT_URL_S3", "https://fly.storage.tigris.dev")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !cfg.StorageEnabled {
			t.Error("StorageEnabled = false with bucket and endpoint set")
		}
	})
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	t.Setenv("WORKER_POLL_INTERVAL", "-5s")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative poll interval")
	}
}
