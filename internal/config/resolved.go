package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoOrigin is returned by RequireHub when no remote origin is configured.
var ErrNoOrigin = errors.New("config: hub.origin is not set (use --origin, FILEHUB_ORIGIN, or the config file)")

// Resolved is the effective configuration after the override chain, with
// durations and sizes parsed. Commands read only this.
type Resolved struct {
	ConfigPath string `json:"config_path"`

	Hub  HubConfig  `json:"hub"`
	Auth AuthConfig `json:"auth"`

	Schedule       []time.Duration `json:"schedule"`
	BandwidthLimit int64           `json:"bandwidth_limit"`
	MaxFileSize    int64           `json:"max_file_size"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	Timeout   time.Duration `json:"timeout"`
	UserAgent string        `json:"user_agent"`

	SessionPath string `json:"session_path"`
	LedgerPath  string `json:"ledger_path"`
	PIDPath     string `json:"pid_path"`
}

// newResolved parses a validated Config into a Resolved.
func newResolved(cfg *Config, cfgPath string) (*Resolved, error) {
	schedule, err := ParseSchedule(cfg.Poll.Schedule)
	if err != nil {
		return nil, fmt.Errorf("poll.schedule: %w", err)
	}

	rate, err := ParseRate(cfg.Transfers.BandwidthLimit)
	if err != nil {
		return nil, err
	}

	maxSize, err := ParseSize(cfg.Transfers.MaxFileSize)
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(cfg.Network.Timeout)
	if err != nil {
		return nil, fmt.Errorf("network.timeout: %w", err)
	}

	return &Resolved{
		ConfigPath:     cfgPath,
		Hub:            cfg.Hub,
		Auth:           cfg.Auth,
		Schedule:       schedule,
		BandwidthLimit: rate,
		MaxFileSize:    maxSize,
		LogLevel:       cfg.Logging.LogLevel,
		LogFormat:      cfg.Logging.LogFormat,
		Timeout:        timeout,
		UserAgent:      cfg.Network.UserAgent,
		SessionPath:    dataPath(sessionFile),
		LedgerPath:     dataPath(ledgerFile),
		PIDPath:        dataPath(watchPIDFile),
	}, nil
}

// RequireHub reports whether the remote origin is known. Commands that talk
// to the backend call it before building clients.
func (r *Resolved) RequireHub() error {
	if r.Hub.Origin == "" {
		return ErrNoOrigin
	}

	return nil
}

// FunctionURL returns {origin}/server/{function_name}.
func (r *Resolved) FunctionURL() string {
	return r.Hub.Origin + "/server/" + r.Hub.FunctionName
}

// TotalPollWait is the sum of the poll schedule: the longest a sign-in waits.
func (r *Resolved) TotalPollWait() time.Duration {
	var total time.Duration
	for _, d := range r.Schedule {
		total += d
	}

	return total
}

// DefaultResolved returns the defaults with no file or overrides applied.
func DefaultResolved() (*Resolved, error) {
	return newResolved(DefaultConfig(), "")
}
