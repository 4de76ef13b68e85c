package source

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeObjects decodes a JSON array of objects keeping each element's
// original bytes and numbers as written.
func decodeObjects(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// flattenJSON turns one JSON object into a Row. Nested objects appear
// under dotted keys ("award.awardAmount") and also as their JSON text
// under their own key, so a field map can address either form. Arrays are
// kept as JSON text; null is absent.
func flattenJSON(raw json.RawMessage) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	row := make(Row, len(obj))
	flattenInto(row, "", obj)
	return row, nil
}

func flattenInto(row Row, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case nil:
		case map[string]any:
			if b, err := json.Marshal(vv); err == nil {
				row[key] = string(b)
			}
			flattenInto(row, key, vv)
		case []any:
			if b, err := json.Marshal(vv); err == nil {
				row[key] = string(b)
			}
		case string:
			row[key] = vv
		case json.Number:
			row[key] = vv.String()
		default:
			row[key] = fmt.Sprint(vv)
		}
	}
}
