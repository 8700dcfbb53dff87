package config

import "time"

// Configer is the lookup surface every component reads configuration through. Values are
// looked up as strings and converted on the way out.
type Configer interface {
	LoadFromPath(path string) error
	Load() error
	GetKey(key string) string
	MustGetKey(key string) string
	GetKeyWithDefault(key, defaultValue string) string
	GetIntKey(key string) int
	MustGetIntKey(key string) int
	GetIntKeyWithDefault(key string, defaultValue int) int
	GetInt64KeyWithDefault(key string, defaultValue int64) int64
	GetDurationKeyWithDefault(key string, unit time.Duration, defaultValue time.Duration) time.Duration
	GetPathKeyWithDefault(key, defaultValue string) string
}
