package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Supplier is the awarded party. RegistryID and ClassificationCode are only
// populated by sources that publish them (SAM.gov UEI and CAGE code).
type Supplier struct {
	Name               string
	RegistryID         string
	ClassificationCode string
}

// ParseSupplier accepts either plain text or a JSON object of the form
// {"name": ..., "ueiSAM": ..., "cageCode": ...} and splits the latter into
// explicit fields. Text that merely looks like JSON is kept as the name.
func ParseSupplier(s string) Supplier {
	s = strings.TrimSpace(s)
	if s == "" {
		return Supplier{}
	}
	if !strings.HasPrefix(s, "{") {
		return Supplier{Name: s}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Supplier{Name: s}
	}
	return Supplier{
		Name:               jsonText(obj["name"]),
		RegistryID:         jsonText(obj["ueiSAM"]),
		ClassificationCode: jsonText(obj["cageCode"]),
	}
}

func jsonText(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(vv)
	default:
		return strings.TrimSpace(fmt.Sprint(vv))
	}
}
