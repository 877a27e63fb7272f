// Package entry defines the parsed log record persisted by repository storage
// workers, together with its severity model and keyword extraction.
package entry

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
)

// DataType is the declared type of a parsed field
type DataType string

// Supported field data types
const (
	DataTypeString  DataType = "String"
	DataTypeInteger DataType = "Integer"
	DataTypeLong    DataType = "Long"
	DataTypeDouble  DataType = "Double"
	DataTypeDate    DataType = "Date"
	DataTypeBoolean DataType = "Boolean"
)

// Valid reports whether d is one of the supported data types
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeInteger, DataTypeLong, DataTypeDouble, DataTypeDate, DataTypeBoolean:
		return true
	}
	return false
}

// Field is one named, typed value extracted from a log line.
// Value holds string, int32, int64, float64, time.Time or bool according to Type.
type Field struct {
	Name  string
	Type  DataType
	Value any
}

// Entry is a parsed log record. It is created by an entry parser, owned by the
// storage worker until persisted and not modified afterwards.
type Entry struct {
	ID             string
	Repository     string
	Timestamp      time.Time
	SavedTimestamp time.Time
	Source         string
	Host           string
	Severity       Severity
	Message        string
	Keywords       []string
	Fields         []Field
}

// Field returns the value of the named field
func (e *Entry) Field(name string) (any, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// AddField appends a typed field
func (e *Entry) AddField(name string, dataType DataType, value any) {
	e.Fields = append(e.Fields, Field{Name: name, Type: dataType, Value: value})
}

type fieldDocument struct {
	Name  string          `json:"name"`
	Type  DataType        `json:"type"`
	Value json.RawMessage `json:"value"`
}

type entryDocument struct {
	ID             string          `json:"id"`
	Repository     string          `json:"repository,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	SavedTimestamp time.Time       `json:"saved_timestamp"`
	Source         string          `json:"source"`
	Host           string          `json:"host"`
	Severity       int             `json:"severity"`
	SeverityText   string          `json:"severity_text"`
	Message        string          `json:"message"`
	Keywords       []string        `json:"keywords,omitempty"`
	Fields         []fieldDocument `json:"fields,omitempty"`
}

// MarshalJSON encodes the entry as a store document
func (e *Entry) MarshalJSON() ([]byte, error) {
	doc := entryDocument{
		ID:             e.ID,
		Repository:     e.Repository,
		Timestamp:      e.Timestamp,
		SavedTimestamp: e.SavedTimestamp,
		Source:         e.Source,
		Host:           e.Host,
		Severity:       e.Severity.Code(),
		SeverityText:   e.Severity.String(),
		Message:        e.Message,
		Keywords:       e.Keywords,
	}
	for _, f := range e.Fields {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", f.Name, err)
		}
		doc.Fields = append(doc.Fields, fieldDocument{Name: f.Name, Type: f.Type, Value: raw})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a store document, restoring field values to their declared types
func (e *Entry) UnmarshalJSON(data []byte) error {
	var doc entryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*e = Entry{
		ID:             doc.ID,
		Repository:     doc.Repository,
		Timestamp:      doc.Timestamp,
		SavedTimestamp: doc.SavedTimestamp,
		Source:         doc.Source,
		Host:           doc.Host,
		Severity:       Severity(doc.Severity),
		Message:        doc.Message,
		Keywords:       doc.Keywords,
	}
	for _, fd := range doc.Fields {
		value, err := decodeValue(fd.Type, fd.Value)
		if err != nil {
			return fmt.Errorf("decode field %s: %w", fd.Name, err)
		}
		e.Fields = append(e.Fields, Field{Name: fd.Name, Type: fd.Type, Value: value})
	}
	return nil
}

func decodeValue(dataType DataType, raw json.RawMessage) (any, error) {
	switch dataType {
	case DataTypeString:
		var v string
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeInteger:
		var v int32
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeLong:
		var v int64
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeDouble:
		var v float64
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeDate:
		var v time.Time
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeBoolean:
		var v bool
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}

// Keywords extracts distinct lower-cased words from message in order of first
// appearance. max < 0 means unlimited and max == 0 disables extraction.
func Keywords(message string, max int) []string {
	if max == 0 {
		return nil
	}

	words := strings.FieldsFunc(message, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	var keywords []string
	for _, w := range words {
		w = strings.ToLower(w)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if max > 0 && len(keywords) == max {
			break
		}
	}
	return keywords
}
