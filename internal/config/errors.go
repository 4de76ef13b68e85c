package config

import (
	"fmt"
	"strings"
)

// MalformedError means a source entry could not be decoded into its typed
// record. The source is skipped; the run continues.
type MalformedError struct {
	Key string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("source %s: malformed config: %v", e.Key, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// RequiredError means an enabled source lacks settings it cannot run
// without. It aborts the whole run at startup.
type RequiredError struct {
	Key     string
	Missing []string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("source %s: missing required settings: %s", e.Key, strings.Join(e.Missing, ", "))
}

// required collects the names of empty required settings.
type required struct {
	key     string
	missing []string
}

func (r *required) str(name, v string) {
	if strings.TrimSpace(v) == "" {
		r.missing = append(r.missing, name)
	}
}

func (r *required) list(name string, v []string) {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return
		}
	}
	r.missing = append(r.missing, name)
}

func (r *required) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return &RequiredError{Key: r.key, Missing: r.missing}
}
