package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from the given .env files.
// When called without arguments it loads the default .env file from the
// current directory. When several paths are supplied they are applied in
// order, so values from later files override values from earlier ones.
//
// Example:
//
//	// Load shared defaults, then environment-specific overrides
//	if err := config.LoadEnv("./config/.env", "./config/.env.local"); err != nil {
//		// Handle error
//	}
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		return godotenv.Load()
	}
	for _, path := range paths {
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("failed to load env file %q: %w", path, err)
		}
	}
	return nil
}

// MustLoadEnv works like LoadEnv but panics if any file cannot be loaded.
// This is useful during application startup when the env files are required.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("Failed to load env files: %v", err))
	}
}

// ForceReloadConfig re-parses environment variables into the provided
// configuration struct, bypassing and replacing any cached instance of the
// same type. Use it when the environment changed after the first Load,
// e.g. after LoadEnv applied an override file.
func ForceReloadConfig[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	if parseErr := env.Parse(v); parseErr != nil {
		return errors.Join(ErrParsingConfig, parseErr)
	}

	typeName := getTypeName[T]()

	globalCache.mu.Lock()
	globalCache.values[typeName] = *v
	globalCache.onces[typeName] = new(sync.Once)
	globalCache.mu.Unlock()

	return nil
}

// ResetCache drops all cached configuration instances so the next Load of
// each type parses the environment again. Intended for tests that mutate
// environment variables between loads.
func ResetCache() {
	globalCache.mu.Lock()
	globalCache.values = make(map[string]any)
	globalCache.onces = make(map[string]*sync.Once)
	globalCache.mu.Unlock()
}
