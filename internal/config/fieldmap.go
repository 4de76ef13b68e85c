package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys is an ordered list of candidate source fields. In YAML it is either a
// single string or a list; the first candidate with a non-empty value wins.
type Keys []string

func (k *Keys) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(n.Value) == "" {
			*k = nil
			return nil
		}
		*k = Keys{n.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := n.Decode(&out); err != nil {
			return err
		}
		*k = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
	}
}

// Lower returns the non-empty keys lowercased, for case-insensitive matching.
func (k Keys) Lower() []string {
	out := make([]string, 0, len(k))
	for _, s := range k {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FieldMap maps canonical record fields to source-native field names.
// Zero-valued fields fall back to the fetcher's defaults.
type FieldMap struct {
	NoticeID                   Keys `yaml:"notice_id"`
	Title                      Keys `yaml:"title"`
	Description                Keys `yaml:"description"`
	Agency                     Keys `yaml:"agency"`
	AwardAmount                Keys `yaml:"award_amount"`
	Currency                   Keys `yaml:"currency"`
	AwardDate                  Keys `yaml:"award_date"`
	SupplierName               Keys `yaml:"supplier_name"`
	SupplierRegistryID         Keys `yaml:"supplier_registry_id"`
	SupplierClassificationCode Keys `yaml:"supplier_classification_code"`
	URL                        Keys `yaml:"url"`
	Tags                       Keys `yaml:"tags"`
}

// WithDefaults fills every empty field of m from def.
func (m FieldMap) WithDefaults(def FieldMap) FieldMap {
	pick := func(a, b Keys) Keys {
		if len(a) > 0 {
			return a
		}
		return b
	}
	return FieldMap{
		NoticeID:                   pick(m.NoticeID, def.NoticeID),
		Title:                      pick(m.Title, def.Title),
		Description:                pick(m.Description, def.Description),
		Agency:                     pick(m.Agency, def.Agency),
		AwardAmount:                pick(m.AwardAmount, def.AwardAmount),
		Currency:                   pick(m.Currency, def.Currency),
		AwardDate:                  pick(m.AwardDate, def.AwardDate),
		SupplierName:               pick(m.SupplierName, def.SupplierName),
		SupplierRegistryID:         pick(m.SupplierRegistryID, def.SupplierRegistryID),
		SupplierClassificationCode: pick(m.SupplierClassificationCode, def.SupplierClassificationCode),
		URL:                        pick(m.URL, def.URL),
		Tags:                       pick(m.Tags, def.Tags),
	}
}
