package source

import (
	"strings"

	"github.com/galois26/procurement-ingester/internal/config"
)

// Row is one upstream record flattened to string fields.
type Row map[string]string

// Pick returns the first non-empty trimmed value among keys.
func (r Row) Pick(keys config.Keys) string {
	for _, k := range keys {
		if s := strings.TrimSpace(r[k]); s != "" {
			return s
		}
	}
	return ""
}

// Values returns every non-empty trimmed value among keys, in key order.
func (r Row) Values(keys config.Keys) []string {
	var out []string
	for _, k := range keys {
		if s := strings.TrimSpace(r[k]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defaultStr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func keysOr(k, def config.Keys) config.Keys {
	if len(k) > 0 {
		return k
	}
	return def
}
