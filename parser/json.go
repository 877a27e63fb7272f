package parser

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/repository"
)

// JSON reads fields from the same-named properties of a JSON object message
type JSON struct {
	*Base
}

// NewJSON builds a JSON parser
func NewJSON(repo repository.Config, cfg repository.ParserConfig) (*JSON, error) {
	base, err := NewBase(repo, cfg)
	if err != nil {
		return nil, err
	}
	return &JSON{Base: base}, nil
}

// Parse decodes in.Message. A message that is not a JSON object fails
// regardless of the field policy.
func (p *JSON) Parse(in Input) (*entry.Entry, error) {
	e, err := p.Begin(in)
	if err != nil {
		return nil, err
	}

	doc, err := decodeObject(in.Message)
	if err != nil {
		return nil, p.Fail("", "message is not a JSON object", err)
	}

	for _, spec := range p.Fields() {
		raw, present := jsonText(doc[spec.Name])
		if err := p.Apply(e, spec, raw, present); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return doc, nil
}

var (
	errNotObject    = fmt.Errorf("null is not an object")
	errTrailingData = fmt.Errorf("unexpected data after the JSON object")
)

// jsonText renders a decoded value as text for coercion. Nested objects and
// arrays keep their JSON form.
func jsonText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
