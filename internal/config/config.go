// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for filehub. Values pass through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Hub       HubConfig       `toml:"hub"`
	Auth      AuthConfig      `toml:"auth"`
	Poll      PollConfig      `toml:"poll"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// HubConfig locates the remote application: the page origin, the file-hub
// function, and the project resources the uploads land in.
type HubConfig struct {
	Origin       string `toml:"origin"`
	FunctionName string `toml:"function_name"`
	ProjectID    string `toml:"project_id"`
	FolderID     string `toml:"folder_id"`
	// TableID enables the remote side record for each upload. Empty disables it.
	TableID string `toml:"table_id"`
}

// AuthConfig configures the identity provider sign-in.
type AuthConfig struct {
	ClientID      string   `toml:"client_id"`
	AuthURL       string   `toml:"auth_url"`
	TokenURL      string   `toml:"token_url"`
	DeviceAuthURL string   `toml:"device_auth_url"`
	Scopes        []string `toml:"scopes"`
	// RedirectPath is the post-login redirect target served by the local
	// callback listener in the browser flow.
	RedirectPath string `toml:"redirect_path"`
	Flow         string `toml:"flow"`
}

// PollConfig holds the session poll schedule as duration strings.
type PollConfig struct {
	Schedule []string `toml:"schedule"`
}

// TransfersConfig limits upload throughput and size.
type TransfersConfig struct {
	BandwidthLimit string `toml:"bandwidth_limit"`
	MaxFileSize    string `toml:"max_file_size"`
}

// LoggingConfig controls log level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not set".
type CLIOverrides struct {
	ConfigPath string
	Origin     string
	Flow       string
}
