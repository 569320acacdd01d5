// Package hookenv wraps the hook tools available inside a charm execution
// context (config-get, unit-get, open-port, juju-log and friends). All
// accessors shell out to the framework-provided binaries; a Runner can be
// injected to substitute them in tests.
package hookenv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config is the charm configuration mapping returned by config-get.
type Config map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the bool value for key, or false if absent or not a bool.
func (c Config) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError carries the combined output of a failed external command so
// callers can log it (the hook log prints command output on failure).
type CommandError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, &CommandError{
			Cmd:    name + " " + strings.Join(args, " "),
			Output: string(out),
			Err:    err,
		}
	}
	return out, nil
}

// Env provides access to the charm hook environment.
type Env struct {
	runner Runner
	logger zerolog.Logger
}

// New returns an Env backed by the real hook tools.
func New() *Env {
	return &Env{
		runner: execRunner{},
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

// NewWithRunner returns an Env using the given runner and logger. Used in tests.
func NewWithRunner(runner Runner, logger zerolog.Logger) *Env {
	return &Env{runner: runner, logger: logger}
}

// InHookContext reports whether the process runs inside a charm hook
// invocation (the framework sets JUJU_UNIT_NAME for hook processes).
func InHookContext() bool {
	return os.Getenv("JUJU_UNIT_NAME") != ""
}

// Config returns the charm configuration via config-get.
func (e *Env) Config(ctx context.Context) (Config, error) {
	out, err := e.runner.Run(ctx, "config-get", "--format=json")
	if err != nil {
		return nil, fmt.Errorf("config-get: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("config-get: decode output: %w", err)
	}
	return cfg, nil
}

// UnitGet returns a unit property (e.g. "public-address") via unit-get.
func (e *Env) UnitGet(ctx context.Context, key string) (string, error) {
	out, err := e.runner.Run(ctx, "unit-get", key)
	if err != nil {
		return "", fmt.Errorf("unit-get %s: %w", key, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// OpenPort exposes the given TCP port on the unit.
func (e *Env) OpenPort(ctx context.Context, port int) error {
	_, err := e.runner.Run(ctx, "open-port", strconv.Itoa(port)+"/tcp")
	return err
}

// ClosePort withdraws the given TCP port from the unit.
func (e *Env) ClosePort(ctx context.Context, port int) error {
	_, err := e.runner.Run(ctx, "close-port", strconv.Itoa(port)+"/tcp")
	return err
}

// Log sends a message to the framework log. Outside a hook context, or when
// juju-log is unavailable, the message goes to the process logger instead.
func (e *Env) Log(msg string) {
	if InHookContext() {
		if _, err := e.runner.Run(context.Background(), "juju-log", msg); err == nil {
			return
		}
	}
	e.logger.Info().Msg(msg)
}

// Run executes an arbitrary external command with combined output capture.
// Exposed so charm operations can reuse the injected runner.
func (e *Env) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.runner.Run(ctx, name, args...)
}
