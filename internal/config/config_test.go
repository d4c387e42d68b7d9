package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Expected address %s, got %s", DefaultAddress, cfg.Server.Address)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if !cfg.Server.AllowLocalOnly {
		t.Error("Expected AllowLocalOnly true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Proxy.IdleConnectionTimeout != 70*time.Second {
		t.Errorf("Expected idle connection timeout 70s, got %v", cfg.Proxy.IdleConnectionTimeout)
	}
	if cfg.Proxy.ConnectTimeout != 40*time.Second {
		t.Errorf("Expected connect timeout 40s, got %v", cfg.Proxy.ConnectTimeout)
	}
	if !cfg.Chain.AllowDirect {
		t.Error("Expected Chain.AllowDirect true by default")
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"RELAY_SERVER_PORT":    "9191",
		"RELAY_LOGGING_LEVEL":  "debug",
		"RELAY_SECURITY_AUTHENTICATE_SSL_CLIENTS": "false",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Expected port 9191 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
	if cfg.Security.AuthenticateSslClients {
		t.Error("Expected AuthenticateSslClients false from env var")
	}
}

func TestConfigTypes(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Proxy.IdleConnectionTimeout.String() == "" {
		t.Error("IdleConnectionTimeout should be a valid duration")
	}
	if cfg.Proxy.ConnectTimeout.String() == "" {
		t.Error("ConnectTimeout should be a valid duration")
	}
}
