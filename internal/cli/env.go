package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader loads an optional .env file before configuration is read.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an -env flag on fs and returns an EnvLoader bound to it.
func AddEnvFlag(fs *flag.FlagSet, defaultPath string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	value := fs.String("env", defaultPath, "Path to an optional .env file")
	return &EnvLoader{value: value, defaultPath: defaultPath}
}

// Load reads the requested file, or CIVIC_RADAR_ENV_FILE when set. Values
// already present in the process environment win. A missing default file
// is not an error; a missing explicitly requested file is.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	if custom := strings.TrimSpace(os.Getenv("CIVIC_RADAR_ENV_FILE")); custom != "" {
		if err := godotenv.Load(custom); err != nil {
			return "", fmt.Errorf("load CIVIC_RADAR_ENV_FILE=%s: %w", custom, err)
		}
		return custom, nil
	}

	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = strings.TrimSpace(*l.value)
	}

	if _, err := os.Stat(requested); err != nil {
		if os.IsNotExist(err) && requested == l.defaultPath {
			return "", nil
		}
		return "", fmt.Errorf("stat env file %s: %w", requested, err)
	}
	if err := godotenv.Load(requested); err != nil {
		return "", fmt.Errorf("load env file %s: %w", requested, err)
	}
	return requested, nil
}
