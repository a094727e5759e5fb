package config

// Default values for configuration options ("layer 0" of the override chain).
const (
	defaultFunctionName   = "file_hub"
	defaultRedirectPath   = "/app/index.html"
	defaultFlow           = FlowDevice
	defaultBandwidthLimit = "0"
	defaultMaxFileSize    = "100MB"
	defaultLogLevel       = "warn"
	defaultLogFormat      = "auto"
	defaultTimeout        = "60s"
	defaultUserAgent      = "filehub/0.1"
)

// Sign-in flows.
const (
	FlowDevice  = "device"
	FlowBrowser = "browser"
)

// defaultSchedule is the hand-tuned session poll schedule: roughly one minute
// in total, capped at 10 seconds per wait.
var defaultSchedule = []string{"1s", "2s", "4s", "6s", "8s", "10s", "10s", "10s"}

var defaultScopes = []string{"ZohoCatalyst.projects.users.READ", "ZohoCatalyst.tables.rows.CREATE"}

// DefaultConfig returns a Config populated with all default values. It is the
// starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			FunctionName: defaultFunctionName,
		},
		Auth: AuthConfig{
			Scopes:       append([]string(nil), defaultScopes...),
			RedirectPath: defaultRedirectPath,
			Flow:         defaultFlow,
		},
		Poll: PollConfig{
			Schedule: append([]string(nil), defaultSchedule...),
		},
		Transfers: TransfersConfig{
			BandwidthLimit: defaultBandwidthLimit,
			MaxFileSize:    defaultMaxFileSize,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout:   defaultTimeout,
			UserAgent: defaultUserAgent,
		},
	}
}
