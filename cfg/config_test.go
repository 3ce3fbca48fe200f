package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	if s.Image != DefaultImage {
		t.Fatalf("Image = %q, want %q", s.Image, DefaultImage)
	}
	if s.ProxyImage != DefaultProxyImage {
		t.Fatalf("ProxyImage = %q, want %q", s.ProxyImage, DefaultProxyImage)
	}
	if s.StartupTimeoutSeconds != 120 {
		t.Fatalf("StartupTimeoutSeconds = %d, want 120", s.StartupTimeoutSeconds)
	}
	if s.EchoLogs {
		t.Fatal("EchoLogs should default to false")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings failed validation: %v", err)
	}
}

func TestDefaultSettings_EnvironmentOverrides(t *testing.T) {
	t.Setenv(ImageEnvVar, "gemfire/gemfire:10.2")
	t.Setenv(EchoLogsEnvVar, "true")

	s := DefaultSettings()

	if s.Image != "gemfire/gemfire:10.2" {
		t.Fatalf("Image = %q, want env override", s.Image)
	}
	if !s.EchoLogs {
		t.Fatal("EchoLogs = false, want env override")
	}
}

func TestDefaultSettings_BadEchoLogsValueIgnored(t *testing.T) {
	t.Setenv(EchoLogsEnvVar, "definitely")

	s := DefaultSettings()

	if s.EchoLogs {
		t.Fatal("unparseable value should leave EchoLogs at its default")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	s, err := Load("/does/not/exist.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s != DefaultSettings() {
		t.Fatalf("Load() = %+v, want defaults", s)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s != DefaultSettings() {
		t.Fatalf("Load() = %+v, want defaults", s)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridcage.toml")
	contents := `
image = "gemfire/gemfire:9.15"
echo_logs = true
startup_timeout_seconds = 300
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Image != "gemfire/gemfire:9.15" {
		t.Fatalf("Image = %q", s.Image)
	}
	if !s.EchoLogs {
		t.Fatal("EchoLogs = false, want true from file")
	}
	if s.StartupTimeoutSeconds != 300 {
		t.Fatalf("StartupTimeoutSeconds = %d, want 300", s.StartupTimeoutSeconds)
	}
	if s.ProxyImage != DefaultProxyImage {
		t.Fatalf("ProxyImage = %q, want untouched default", s.ProxyImage)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridcage.toml")
	if err := os.WriteFile(path, []byte("image = [broken"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(s *Settings) {}, false},
		{"empty image", func(s *Settings) { s.Image = "" }, true},
		{"empty proxy image", func(s *Settings) { s.ProxyImage = "" }, true},
		{"zero timeout", func(s *Settings) { s.StartupTimeoutSeconds = 0 }, true},
		{"negative timeout", func(s *Settings) { s.StartupTimeoutSeconds = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)

			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
