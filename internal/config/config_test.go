package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Database.Path != "valet.db" {
		t.Errorf("db path: %q", cfg.Database.Path)
	}
	if cfg.User.DefaultTimezone != "UTC" {
		t.Errorf("timezone: %q", cfg.User.DefaultTimezone)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valet.toml")
	content := `
[server]
addr = ":9090"
base_url = "https://valet.example.com"

[email]
client_id = "email-cid"
client_secret = "email-secret"

[user]
default_timezone = "America/New_York"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load(path)

	if cfg.Server.Addr != ":9090" || cfg.Server.BaseURL != "https://valet.example.com" {
		t.Errorf("server: %+v", cfg.Server)
	}
	if cfg.Email.ClientID != "email-cid" {
		t.Errorf("email oauth: %+v", cfg.Email)
	}
	if cfg.User.DefaultTimezone != "America/New_York" {
		t.Errorf("timezone: %q", cfg.User.DefaultTimezone)
	}
	// Single OAuth app backs both integrations when calendar is unset.
	if cfg.Calendar.ClientID != "email-cid" {
		t.Errorf("calendar fallback: %+v", cfg.Calendar)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valet.toml")
	if err := os.WriteFile(path, []byte("[memory]\napi_key = \"from-file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VALET_MEMORY_API_KEY", "from-env")
	t.Setenv("VALET_OBSERVER_ENABLED", "true")

	cfg := Load(path)

	if cfg.Memory.APIKey != "from-env" {
		t.Errorf("env should win over file: %q", cfg.Memory.APIKey)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer env flag ignored")
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Server.Addr != ":8080" {
		t.Errorf("defaults lost on missing file: %+v", cfg.Server)
	}
}
