package config

type StorageConfig interface {
	GetSessionBackend() string
	GetSessionKeyPrefix() string
	GetRedisAddr() string
	GetRedisChannel() string
	GetBoltPath() string
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)

type Storage struct {
	o *overrides
}

var _ StorageConfig = Storage{}

func (s Storage) GetSessionBackend() string {
	switch b := s.o.lookup("SESSION_BACKEND", BackendMemory); b {
	case BackendRedis, BackendBolt:
		return b
	default:
		return BackendMemory
	}
}

func (s Storage) GetSessionKeyPrefix() string {
	return s.o.lookup("SESSION_KEY_PREFIX", "auth")
}

func (s Storage) GetRedisAddr() string {
	return s.o.lookup("REDIS_ADDR", "localhost:6379")
}

func (s Storage) GetRedisChannel() string {
	return s.o.lookup("REDIS_CHANNEL", s.GetSessionKeyPrefix()+":session-events")
}

func (s Storage) GetBoltPath() string {
	return s.o.lookup("BOLT_PATH", "./data/session.db")
}
