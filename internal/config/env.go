package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "FILEHUB_CONFIG"
	EnvOrigin   = "FILEHUB_ORIGIN"
	EnvFunction = "FILEHUB_FUNCTION"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // FILEHUB_CONFIG: override config file path
	Origin       string // FILEHUB_ORIGIN: remote application origin
	FunctionName string // FILEHUB_FUNCTION: file-hub function name
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Origin:       os.Getenv(EnvOrigin),
		FunctionName: os.Getenv(EnvFunction),
	}
}
