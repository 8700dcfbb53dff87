package config

import (
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/mitchellh/go-homedir"
)

// keyLookup is implemented by each Configer backend. The conversions below are shared so that
// the dotenv and map backends parse values identically.
type keyLookup func(key string) string

func (lookup keyLookup) mustGetKey(key string) string {
	val := lookup(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (lookup keyLookup) withDefault(key, defaultValue string) string {
	if val := lookup(key); val != "" {
		return val
	}

	return defaultValue
}

func (lookup keyLookup) intKey(key string, defaultValue int) int {
	intVal, err := strconv.Atoi(lookup(key))
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (lookup keyLookup) mustGetIntKey(key string) int {
	intVal, err := strconv.Atoi(lookup(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (lookup keyLookup) int64Key(key string, defaultValue int64) int64 {
	intVal, err := strconv.ParseInt(lookup(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

// durationKey reads key as a count of unit. A value that isn't a positive integer gives
// defaultValue.
func (lookup keyLookup) durationKey(key string, unit, defaultValue time.Duration) time.Duration {
	count, err := strconv.ParseInt(lookup(key), 10, 64)
	if err != nil || count <= 0 {
		return defaultValue
	}

	return time.Duration(count) * unit
}

// pathKey expands a leading ~ in the configured path.
func (lookup keyLookup) pathKey(key, defaultValue string) string {
	path := lookup.withDefault(key, defaultValue)
	expanded, err := homedir.Expand(path)
	if err != nil {
		log.Warnf("Unable to expand path '%s' for key %s: %s", path, key, err)
		return path
	}

	return expanded
}
