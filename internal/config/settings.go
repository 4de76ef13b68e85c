package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const DefaultDBPath = "data/tenders.db"

// Settings are the secrets and paths taken from the environment. They are
// read once at process start and passed to whatever needs them.
type Settings struct {
	SAMGovAPIKey   string
	CanadaToken    string
	AusTenderToken string
	DBPath         string
}

// LoadSettings reads settings through getenv; os.Getenv when nil.
func LoadSettings(getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := Settings{
		SAMGovAPIKey:   getenv("SAM_GOV_API_KEY"),
		CanadaToken:    getenv("CANADA_OPEN_DATA_TOKEN"),
		AusTenderToken: getenv("AUSTENDER_DATA_GOV_TOKEN"),
		DBPath:         getenv("TENDER_DB_PATH"),
	}
	if s.DBPath == "" {
		s.DBPath = DefaultDBPath
	}
	return s
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// EnsureDBDir creates the parent directory of the database file.
func (s Settings) EnsureDBDir() error {
	dir := filepath.Dir(s.DBPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
