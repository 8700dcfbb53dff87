package config

import "github.com/apex/log"

// MustLoadFromDotenv loads the dotenv file at path (an empty path only reads the environment).
// Failure to read the file is fatal.
func MustLoadFromDotenv(path string) Configer {
	c := NewDotenvConfig(path)
	if err := c.Load(); err != nil {
		log.Fatalf("Unable to load config from %s: %s", path, err)
	}

	return c
}
