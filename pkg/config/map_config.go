package config

import (
	"fmt"
	"sync"
	"time"
)

// MapConfig is an in-memory Configer, used by tests and by callers that assemble configuration
// themselves.
type MapConfig struct {
	configValues sync.Map
}

func NewMapConfig(entries map[string]string) *MapConfig {
	c := &MapConfig{}

	for key, entry := range entries {
		c.configValues.Store(key, entry)
	}

	return c
}

func (c *MapConfig) Set(key, value string) {
	c.configValues.Store(key, value)
}

func (c *MapConfig) LoadFromPath(_ string) error {
	return fmt.Errorf("LoadFromPath not supported for MapConfig")
}

func (c *MapConfig) Load() error {
	return nil
}

func (c *MapConfig) GetKey(key string) string {
	v, ok := c.configValues.Load(key)
	switch {
	case !ok:
		return ""

	case v == nil:
		return ""

	default:
		return v.(string)
	}
}

func (c *MapConfig) MustGetKey(key string) string {
	return keyLookup(c.GetKey).mustGetKey(key)
}

func (c *MapConfig) GetKeyWithDefault(key, defaultValue string) string {
	return keyLookup(c.GetKey).withDefault(key, defaultValue)
}

func (c *MapConfig) GetIntKey(key string) int {
	return keyLookup(c.GetKey).intKey(key, 0)
}

func (c *MapConfig) MustGetIntKey(key string) int {
	return keyLookup(c.GetKey).mustGetIntKey(key)
}

func (c *MapConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	return keyLookup(c.GetKey).intKey(key, defaultValue)
}

func (c *MapConfig) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	return keyLookup(c.GetKey).int64Key(key, defaultValue)
}

func (c *MapConfig) GetDurationKeyWithDefault(key string, unit, defaultValue time.Duration) time.Duration {
	return keyLookup(c.GetKey).durationKey(key, unit, defaultValue)
}

func (c *MapConfig) GetPathKeyWithDefault(key, defaultValue string) string {
	return keyLookup(c.GetKey).pathKey(key, defaultValue)
}
