package config

import "sync"

type Config interface {
	EnvConfig
	RetryConfig
	StorageConfig
	SessionConfig
}

type EnvConfig interface {
	GetAPIBaseURL() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

// Option sets a value that takes precedence over the environment.
type Option func(*overrides)

// With overrides the variable name (for example "API_BASE_URL") with value.
func With(name, value string) Option {
	return func(o *overrides) {
		o.values[name] = value
	}
}

type overrides struct {
	values map[string]string
	mu     sync.RWMutex
}

func (o *overrides) lookup(name, defaultValue string) string {
	if o != nil {
		o.mu.RLock()
		v, ok := o.values[name]
		o.mu.RUnlock()
		if ok && v != "" {
			return v
		}
	}
	return GetEnv(name, defaultValue)
}

type mainConfig struct {
	EnvVars
	Retry
	Storage
	Session
}

func New(options ...Option) Config {
	o := &overrides{values: make(map[string]string)}
	for _, opt := range options {
		opt(o)
	}
	return mainConfig{
		EnvVars: EnvVars{o},
		Retry:   Retry{o},
		Storage: Storage{o},
		Session: Session{o},
	}
}
