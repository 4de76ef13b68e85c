package source

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// recordPath selects record elements. ".//NAME" matches NAME at any depth
// below the root; "A/B" matches B under A under the root.
type recordPath struct {
	anyDepth bool
	parts    []string
}

func parseRecordPath(s string) (recordPath, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, ".//"); ok {
		if rest == "" || strings.Contains(rest, "/") {
			return recordPath{}, fmt.Errorf("record_path %q: unsupported", s)
		}
		return recordPath{anyDepth: true, parts: []string{rest}}, nil
	}
	s = strings.TrimPrefix(s, "./")
	if s == "" {
		return recordPath{}, errors.New("record_path is empty")
	}
	parts := strings.Split(s, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, "[]@*") {
			return recordPath{}, fmt.Errorf("record_path %q: unsupported", s)
		}
	}
	return recordPath{parts: parts}, nil
}

// match reports whether an element named name, with ancestors below the
// root given by stack, is a record.
func (p recordPath) match(stack []string, name string) bool {
	if p.anyDepth {
		return name == p.parts[0]
	}
	if len(stack) != len(p.parts)-1 || name != p.parts[len(p.parts)-1] {
		return false
	}
	for i, s := range stack {
		if p.parts[i] != s {
			return false
		}
	}
	return true
}

type xmlNode struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

// flatten returns the record as a Row and as the payload document. A child
// with children of its own becomes a nested map of its children's trimmed
// text (two levels only), exposed in the Row as "PARENT.CHILD".
func (n xmlNode) flatten() (Row, map[string]any) {
	row := make(Row, len(n.Children))
	payload := make(map[string]any, len(n.Children))
	for _, c := range n.Children {
		name := c.XMLName.Local
		if len(c.Children) == 0 {
			text := strings.TrimSpace(c.Text)
			if _, seen := row[name]; !seen {
				row[name] = text
				payload[name] = text
			}
			continue
		}
		nested, _ := payload[name].(map[string]string)
		if nested == nil {
			nested = make(map[string]string, len(c.Children))
			payload[name] = nested
		}
		for _, g := range c.Children {
			sub := g.XMLName.Local
			if _, seen := nested[sub]; seen {
				continue
			}
			text := strings.TrimSpace(g.Text)
			nested[sub] = text
			row[name+"."+sub] = text
		}
	}
	return row, payload
}

// readXMLRecords streams r and calls emit for every element selected by
// path. Non-UTF-8 documents are decoded from their declared charset.
func readXMLRecords(r io.Reader, path recordPath, emit func(Row, map[string]any) bool) error {
	d := xml.NewDecoder(r)
	d.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(in), nil
	}

	var stack []string // open elements below the root
	depth := 0
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			if depth != 0 {
				return io.ErrUnexpectedEOF
			}
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 && path.match(stack, t.Name.Local) {
				var n xmlNode
				if err := d.DecodeElement(&n, &t); err != nil {
					return err
				}
				row, payload := n.flatten()
				if !emit(row, payload) {
					return nil
				}
				continue
			}
			if depth > 0 {
				stack = append(stack, t.Name.Local)
			}
			depth++
		case xml.EndElement:
			depth--
			if depth > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}
