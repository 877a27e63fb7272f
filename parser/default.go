package parser

import (
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/pkg/timestamp"
	"github.com/zhikook/chililog-server/repository"
)

// DefaultName is the name of the implicit catch-all parser
const DefaultName = "Default"

// Default keeps the message as is. Content never makes it fail; only the
// envelope checks apply. Fields come from the producer's fields hint when it
// is a JSON object, a malformed hint is ignored.
type Default struct {
	*Base
}

// NewDefault builds a default parser. Configured fields are ignored.
func NewDefault(repo repository.Config, cfg repository.ParserConfig) (*Default, error) {
	cfg.Fields = nil
	base, err := NewBase(repo, cfg)
	if err != nil {
		return nil, err
	}
	return &Default{Base: base}, nil
}

// Parse validates the envelope and copies the fields hint
func (p *Default) Parse(in Input) (*entry.Entry, error) {
	e, err := p.Begin(in)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Fields) == "" {
		return e, nil
	}

	hint, err := decodeObject(in.Fields)
	if err != nil {
		return e, nil
	}
	names := make([]string, 0, len(hint))
	for name := range hint {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if dataType, value, ok := inferValue(hint[name]); ok {
			e.AddField(name, dataType, value)
		}
	}
	return e, nil
}

// inferValue types a hint value: whole numbers become Long, other numbers
// Double, ISO-8601 strings Date.
func inferValue(v any) (entry.DataType, any, bool) {
	switch t := v.(type) {
	case bool:
		return entry.DataTypeBoolean, t, true
	case string:
		if ts, ok := isoDate(t); ok {
			return entry.DataTypeDate, ts, true
		}
		return entry.DataTypeString, t, true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return entry.DataTypeLong, n, true
		}
		if x, err := t.Float64(); err == nil {
			return entry.DataTypeDouble, x, true
		}
		return "", nil, false
	case nil:
		return "", nil, false
	default:
		raw, ok := jsonText(t)
		return entry.DataTypeString, raw, ok
	}
}

func isoDate(s string) (time.Time, bool) {
	if len(s) < len("2006-1-2T1:1:1") || s[4] != '-' {
		return time.Time{}, false
	}
	t, err := timestamp.ParseISO(s)
	return t, err == nil
}
