package config

import (
	"os"
	"strings"
)

const (
	apiBaseURLVar = "API_BASE_URL"
	appNameVar    = "APP_NAME"
	envVar        = "ENV"
	logLevelVar   = "LOG_LEVEL"
)

type EnvVars struct {
	o *overrides
}

var _ EnvConfig = EnvVars{}

// GetAPIBaseURL returns the root every endpoint path is resolved against
// (e.g., "https://api.example.com"). A trailing slash is removed.
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(e.o.lookup(apiBaseURLVar, "http://localhost:8080"), "/")
}

func (e EnvVars) GetAppName() string {
	return e.o.lookup(appNameVar, "Session Client")
}

func (e EnvVars) GetEnv() string {
	return e.o.lookup(envVar, "DEV")
}

func (e EnvVars) GetLogLevel() string {
	return e.o.lookup(logLevelVar, "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
