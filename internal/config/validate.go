package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/filehub-go/internal/session"
)

// minTimeout is the shortest accepted network timeout.
const minTimeout = 1 * time.Second

// Validate checks all configuration values and returns every error found,
// joined, so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateHub(&cfg.Hub)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validatePoll(&cfg.Poll)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateHub(h *HubConfig) []error {
	var errs []error

	if h.Origin != "" {
		u, err := url.Parse(h.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("hub.origin: %q is not an absolute URL", h.Origin))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("hub.origin: scheme must be http or https, got %q", u.Scheme))
		}
	}

	if h.FunctionName == "" {
		errs = append(errs, errors.New("hub.function_name: must not be empty"))
	} else if strings.ContainsAny(h.FunctionName, "/?#") {
		errs = append(errs, fmt.Errorf("hub.function_name: %q must be a bare name", h.FunctionName))
	}

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	switch a.Flow {
	case FlowDevice, FlowBrowser:
	default:
		errs = append(errs, fmt.Errorf("auth.flow: must be %q or %q, got %q", FlowDevice, FlowBrowser, a.Flow))
	}

	if !strings.HasPrefix(a.RedirectPath, "/") {
		errs = append(errs, fmt.Errorf("auth.redirect_path: %q must start with /", a.RedirectPath))
	}

	return errs
}

func validatePoll(p *PollConfig) []error {
	if _, err := ParseSchedule(p.Schedule); err != nil {
		return []error{fmt.Errorf("poll.schedule: %w", err)}
	}

	return nil
}

// ParseSchedule converts duration strings into a poll schedule. Every step
// must be positive and no shorter than the one before it.
func ParseSchedule(steps []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(steps))

	for i, s := range steps {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		out = append(out, d)
	}

	if err := session.ValidateSchedule(out); err != nil {
		return nil, err
	}

	return out, nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if _, err := ParseRate(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	if _, err := ParseSize(t.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("transfers.max_file_size: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: unknown level %q", l.LogLevel))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: unknown format %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		return []error{fmt.Errorf("network.timeout: %w", err)}
	}

	if d < minTimeout {
		return []error{fmt.Errorf("network.timeout: %s is below the minimum %s", d, minTimeout)}
	}

	return nil
}
