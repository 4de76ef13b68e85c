package model

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion is bumped whenever the shape of Payload.Data changes.
const PayloadVersion = 1

// PayloadFormat names the wire format the record was read from.
type PayloadFormat string

const (
	FormatJSON PayloadFormat = "json"
	FormatCSV  PayloadFormat = "csv"
	FormatXML  PayloadFormat = "xml"
)

// Payload keeps the original source record for audit. Data is always a JSON
// document; it is stored and replaced as a whole and never interpreted.
type Payload struct {
	Version int
	Format  PayloadFormat
	Data    []byte
}

// NewPayload encodes v as JSON. Raw JSON bytes are kept verbatim.
func NewPayload(format PayloadFormat, v any) (Payload, error) {
	var data []byte
	switch vv := v.(type) {
	case json.RawMessage:
		data = append([]byte(nil), vv...)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Payload{}, fmt.Errorf("encode %s payload: %w", format, err)
		}
		data = b
	}
	return Payload{Version: PayloadVersion, Format: format, Data: data}, nil
}

// Decode unmarshals the payload document into v.
func (p Payload) Decode(v any) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(p.Data, v)
}
