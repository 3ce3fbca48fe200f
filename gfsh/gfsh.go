// Package gfsh runs batches of administrative commands against a running
// coordinator through the cache's CLI tool, executed inside the coordinator's
// container.
package gfsh

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gridcage/gridcage/member"
	"github.com/gridcage/gridcage/runtime"
	"github.com/gridcage/gridcage/telemetry"
)

const (
	scriptPath       = "/script.gfsh"
	keyStorePath     = "/key-store"
	trustStorePath   = "/trust-store"
	securityPropPath = "/security.properties"
)

// CommandError is returned when a command batch exits non-zero. It always
// carries the full captured output so failures stay diagnosable even when
// output logging was not requested.
type CommandError struct {
	ExitCode int
	Output   string
	Commands []string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("gfsh commands %v failed with exit code %d", e.Commands, e.ExitCode)
}

// Session executes command batches against one coordinator container.
type Session struct {
	rt          runtime.Runtime
	containerID string
	connect     string
	files       []runtime.File
	logOutput   bool
}

// Run writes the connection preamble plus the commands as a script into the
// coordinator container and executes it in batch mode. Output is logged line
// by line when requested, and always on failure: a quiet successful run is a
// choice, an invisible failure is not.
func (s *Session) Run(ctx context.Context, commands ...string) (string, error) {
	for _, f := range s.files {
		if err := s.rt.CopyToContainer(ctx, s.containerID, f); err != nil {
			return "", fmt.Errorf("failed to stage gfsh connection file %s: %w", f.Path, err)
		}
	}

	script := s.connect + "\n" + strings.Join(commands, "\n")
	file := runtime.File{Path: scriptPath, Mode: 0o666, Contents: []byte(script)}
	if err := s.rt.CopyToContainer(ctx, s.containerID, file); err != nil {
		return "", fmt.Errorf("failed to write gfsh script: %w", err)
	}

	result, err := s.rt.Exec(ctx, s.containerID, []string{"gfsh", "-e", "run --file=" + scriptPath})
	if err != nil {
		return "", fmt.Errorf("error executing gfsh commands %v: %w", commands, err)
	}

	scriptError := result.ExitCode != 0
	if s.logOutput || scriptError {
		for _, line := range strings.Split(result.Output, "\n") {
			if scriptError {
				log.Error().Msg(line)
			} else {
				log.Info().Msg(line)
			}
		}
	}

	if scriptError {
		telemetry.GfshFailures.Inc()
		return "", &CommandError{ExitCode: result.ExitCode, Output: result.Output, Commands: commands}
	}

	telemetry.GfshRuns.Inc()
	return result.Output, nil
}

// Builder assembles the connection preamble for a Session. Individually-set
// credential and TLS options compose; a security-properties file or explicit
// connect options supersede everything set before.
type Builder struct {
	rt          runtime.Runtime
	containerID string
	logOutput   bool
	options     []string
	files       []runtime.File
}

// NewBuilder targets the given coordinator container.
func NewBuilder(rt runtime.Runtime, containerID string) *Builder {
	return &Builder{rt: rt, containerID: containerID}
}

// WithLogging controls whether successful command output is logged.
func (b *Builder) WithLogging(logOutput bool) *Builder {
	b.logOutput = logOutput
	return b
}

// WithCredentials adds a username and password to the connect command.
// Required when the cluster runs a security manager.
func (b *Builder) WithCredentials(username, password string) *Builder {
	b.options = append(b.options, "--username="+username, "--password="+password)
	return b
}

// WithKeyStore stages raw keystore material for TLS management connections.
func (b *Builder) WithKeyStore(contents []byte, password string) *Builder {
	b.files = append(b.files, runtime.File{Path: keyStorePath, Mode: 0o666, Contents: contents})
	b.options = append(b.options, "--key-store="+keyStorePath, "--key-store-password="+password)
	return b
}

// WithKeyStoreFile reads a local keystore file and stages it.
func (b *Builder) WithKeyStoreFile(path, password string) (*Builder, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key store %s: %w", path, err)
	}
	return b.WithKeyStore(contents, password), nil
}

// WithTrustStore stages raw truststore material for TLS management connections.
func (b *Builder) WithTrustStore(contents []byte, password string) *Builder {
	b.files = append(b.files, runtime.File{Path: trustStorePath, Mode: 0o666, Contents: contents})
	b.options = append(b.options, "--trust-store="+trustStorePath, "--trust-store-password="+password)
	return b
}

// WithTrustStoreFile reads a local truststore file and stages it.
func (b *Builder) WithTrustStoreFile(path, password string) (*Builder, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust store %s: %w", path, err)
	}
	return b.WithTrustStore(contents, password), nil
}

// WithCiphers sets the ciphers for management connections.
func (b *Builder) WithCiphers(ciphers string) *Builder {
	b.options = append(b.options, "--ciphers="+ciphers)
	return b
}

// WithProtocols sets the protocols for management connections.
func (b *Builder) WithProtocols(protocols string) *Builder {
	b.options = append(b.options, "--protocols="+protocols)
	return b
}

// WithSecurityProperties stages a properties file holding every option needed
// to connect, superseding any previously set credential or TLS options.
func (b *Builder) WithSecurityProperties(props map[string]string) *Session {
	lines := make([]string, 0, len(props))
	for k, v := range props {
		lines = append(lines, k+"="+v)
	}
	return b.securityPropertiesSession([]byte(strings.Join(lines, "\n")))
}

// WithSecurityPropertiesFile reads a local properties file and stages it,
// superseding any previously set credential or TLS options.
func (b *Builder) WithSecurityPropertiesFile(path string) (*Session, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read security properties %s: %w", path, err)
	}
	return b.securityPropertiesSession(contents), nil
}

func (b *Builder) securityPropertiesSession(contents []byte) *Session {
	b.files = append(b.files, runtime.File{Path: securityPropPath, Mode: 0o666, Contents: contents})
	return b.WithConnect("--security-properties-file=" + securityPropPath)
}

// WithConnect builds a session from explicit connect options, superseding any
// previously set credential or TLS options. The management address is always
// applied.
func (b *Builder) WithConnect(connectOptions ...string) *Session {
	return &Session{
		rt:          b.rt,
		containerID: b.containerID,
		connect:     connectCommand(connectOptions),
		files:       b.files,
		logOutput:   b.logOutput,
	}
}

// Build creates a Session from the accumulated options.
func (b *Builder) Build() *Session {
	return &Session{
		rt:          b.rt,
		containerID: b.containerID,
		connect:     connectCommand(b.options),
		files:       b.files,
		logOutput:   b.logOutput,
	}
}

func connectCommand(options []string) string {
	cmd := fmt.Sprintf("connect --jmx-manager=localhost[%d]", member.JMXPort)
	if len(options) > 0 {
		cmd += " " + strings.Join(options, " ")
	}
	return cmd
}
