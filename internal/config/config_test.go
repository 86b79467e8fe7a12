package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadWithIngestKeys(t *testing.T) {
	_ = os.Setenv("WORKSHOP_INGEST_KEYS", "key-one,key-two")
	defer func() { _ = os.Unsetenv("WORKSHOP_INGEST_KEYS") }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config to load with ingest keys, got error: %v", err)
	}

	if len(cfg.Server.IngestKeys) != 2 {
		t.Fatalf("expected 2 ingest keys, got %d: %v", len(cfg.Server.IngestKeys), cfg.Server.IngestKeys)
	}
	if cfg.Server.IngestKeys[0] != "key-one" || cfg.Server.IngestKeys[1] != "key-two" {
		t.Errorf("unexpected ingest keys: %v", cfg.Server.IngestKeys)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got '%s'", cfg.Server.Port)
	}
	if cfg.Relay.MaxCachedItemsPerQuery != 100 {
		t.Errorf("expected default cache capacity 100, got %d", cfg.Relay.MaxCachedItemsPerQuery)
	}
	if cfg.Relay.SendBufferSize != 256 {
		t.Errorf("expected default send buffer 256, got %d", cfg.Relay.SendBufferSize)
	}
	if cfg.Feed.ZMQEnabled {
		t.Error("zmq bridge should be disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got '%s'", cfg.Logging.Level)
	}
}

func TestLoadWithoutIngestKeys(t *testing.T) {
	_ = os.Unsetenv("WORKSHOP_INGEST_KEYS")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when no ingest keys are configured")
	}
	if !strings.Contains(err.Error(), "ingest key") {
		t.Errorf("error should mention ingest keys, got: %v", err)
	}
}

func TestValidate_RejectsBadLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "loud") {
		t.Errorf("error should name the bad level, got: %v", err)
	}
}

func TestValidate_RejectsNonPositiveCacheCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.MaxCachedItemsPerQuery = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero cache capacity")
	}
}

func TestValidate_RequiresZMQEndpointWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.ZMQEnabled = true
	cfg.Feed.ZMQEndpoint = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when zmq is enabled without an endpoint")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			IngestKeys:  []string{"k"},
			IngestRate:  50,
			IngestBurst: 100,
		},
		Relay: RelayConfig{
			MaxCachedItemsPerQuery: 100,
			SendBufferSize:         256,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
