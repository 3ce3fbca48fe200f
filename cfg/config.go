package cfg

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// DefaultImage is the cache image used when none is configured explicitly
// or through the GRIDCAGE_IMAGE environment variable.
const DefaultImage = "gemfire/gemfire:10.1"

// DefaultProxyImage is the relay image used by the port bridge.
const DefaultProxyImage = "alpine/socat:1.8.0.0"

// Environment variables recognized by DefaultSettings.
const (
	ImageEnvVar    = "GRIDCAGE_IMAGE"
	EchoLogsEnvVar = "GRIDCAGE_ECHO_LOGS"
)

// Settings holds the per-cluster configuration. Every cluster instance
// receives its own copy so parallel clusters stay independently configurable;
// there is no process-wide mutable state.
type Settings struct {
	Image                 string `toml:"image"`
	ProxyImage            string `toml:"proxy_image"`
	EchoLogs              bool   `toml:"echo_logs"`
	StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
	MetricsEnabled        bool   `toml:"metrics_enabled"`
}

// DefaultSettings returns settings seeded from the environment.
func DefaultSettings() Settings {
	s := Settings{
		Image:                 DefaultImage,
		ProxyImage:            DefaultProxyImage,
		StartupTimeoutSeconds: 120,
	}

	if image := os.Getenv(ImageEnvVar); image != "" {
		s.Image = image
	}

	if echo := os.Getenv(EchoLogsEnvVar); echo != "" {
		parsed, err := strconv.ParseBool(echo)
		if err != nil {
			log.Warn().Str("value", echo).Msg("Ignoring unparseable " + EchoLogsEnvVar)
		} else {
			s.EchoLogs = parsed
		}
	}

	return s
}

// Load reads settings from a TOML file, applied on top of DefaultSettings.
// A missing file is not an error; the defaults are returned.
func Load(configPath string) (Settings, error) {
	s := DefaultSettings()

	if configPath == "" {
		return s, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		return s, nil
	}

	log.Info().Str("path", configPath).Msg("Loading configuration")
	if _, err := toml.DecodeFile(configPath, &s); err != nil {
		return s, fmt.Errorf("failed to decode config: %w", err)
	}

	return s, nil
}

// Validate checks settings for errors.
func (s Settings) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("image reference must not be empty")
	}

	if s.ProxyImage == "" {
		return fmt.Errorf("proxy image reference must not be empty")
	}

	if s.StartupTimeoutSeconds < 1 {
		return fmt.Errorf("startup timeout must be >= 1 second")
	}

	return nil
}
