package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"thread-erp-go/pkg/logger"
)

const (
	dotenvFilename = ".env"
	dotenvPathEnv  = "THREAD_ENV_FILE"
)

// loadDotEnv applies the nearest .env (or THREAD_ENV_FILE) without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(log logger.Logger) error {
	path := strings.TrimSpace(os.Getenv(dotenvPathEnv))
	if path == "" {
		found, err := findDotEnv(dotenvFilename)
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("dotenv: no file found")
			return nil
		}
		if err != nil {
			return err
		}
		path = found
	}

	values, err := readDotEnv(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug("dotenv: file missing", "path", path)
		return nil
	}
	if err != nil {
		return err
	}

	loaded, skipped := 0, 0
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			skipped++
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
		loaded++
	}

	log.Info("dotenv: loaded variables", "count", loaded, "path", path)
	if skipped > 0 {
		log.Info("dotenv: skipped variables already set in env", "count", skipped)
	}
	return nil
}

// readDotEnv parses a dotenv file with viper's env codec. Viper folds keys to
// lower case, so names come back upper-cased.
func readDotEnv(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		values[strings.ToUpper(key)] = v.GetString(key)
	}
	return values, nil
}

func findDotEnv(filename string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}
