package config

import (
	"os"
	"time"

	"github.com/subosito/gotenv"
)

// DotenvConfig loads a .env file into the process environment and reads keys from there, so
// values already set in the environment win over the file.
type DotenvConfig struct {
	DotenvPath string
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{DotenvPath: path}
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return c.Load()
}

func (c *DotenvConfig) Load() error {
	if c.DotenvPath == "" {
		return nil
	}

	return gotenv.Load(c.DotenvPath)
}

func (c *DotenvConfig) GetKey(key string) string {
	return os.Getenv(key)
}

func (c *DotenvConfig) MustGetKey(key string) string {
	return keyLookup(c.GetKey).mustGetKey(key)
}

func (c *DotenvConfig) GetKeyWithDefault(key, defaultValue string) string {
	return keyLookup(c.GetKey).withDefault(key, defaultValue)
}

func (c *DotenvConfig) GetIntKey(key string) int {
	return keyLookup(c.GetKey).intKey(key, 0)
}

func (c *DotenvConfig) MustGetIntKey(key string) int {
	return keyLookup(c.GetKey).mustGetIntKey(key)
}

func (c *DotenvConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	return keyLookup(c.GetKey).intKey(key, defaultValue)
}

func (c *DotenvConfig) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	return keyLookup(c.GetKey).int64Key(key, defaultValue)
}

func (c *DotenvConfig) GetDurationKeyWithDefault(key string, unit, defaultValue time.Duration) time.Duration {
	return keyLookup(c.GetKey).durationKey(key, unit, defaultValue)
}

func (c *DotenvConfig) GetPathKeyWithDefault(key, defaultValue string) string {
	return keyLookup(c.GetKey).pathKey(key, defaultValue)
}
