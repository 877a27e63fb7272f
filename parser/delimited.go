package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

// Delimited parser properties
const (
	PropertyDelimiter = "delimiter"
	PropertyPosition  = "position"

	DefaultDelimiter = "|"
)

// Delimited splits the message on a single character delimiter
type Delimited struct {
	*Base
	delimiter string
	positions []int
}

// NewDelimited builds a delimited parser. Every field needs a 1-based position.
func NewDelimited(repo repository.Config, cfg repository.ParserConfig) (*Delimited, error) {
	base, err := NewBase(repo, cfg)
	if err != nil {
		return nil, err
	}

	delimiter := cfg.Property(PropertyDelimiter, DefaultDelimiter)
	if utf8.RuneCountInString(delimiter) != 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: parser %s: delimiter %q must be a single character", errors.ErrInvalidConfig, cfg.Name, delimiter),
			"Delimited", "New", "read delimiter")
	}

	positions := make([]int, len(cfg.Fields))
	for i, fc := range cfg.Fields {
		pos, ok, err := fc.IntProperty(PropertyPosition)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Delimited", "New", "read position")
		}
		if !ok || pos < 1 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: parser %s field %s needs a position of 1 or more", errors.ErrInvalidConfig, cfg.Name, fc.Name),
				"Delimited", "New", "read position")
		}
		positions[i] = pos
	}

	return &Delimited{Base: base, delimiter: delimiter, positions: positions}, nil
}

// Delimiter returns the configured delimiter
func (p *Delimited) Delimiter() string { return p.delimiter }

// Parse splits in.Message and coerces the token at each field position
func (p *Delimited) Parse(in Input) (*entry.Entry, error) {
	e, err := p.Begin(in)
	if err != nil {
		return nil, err
	}

	tokens := strings.Split(in.Message, p.delimiter)
	for i, spec := range p.Fields() {
		pos := p.positions[i]
		present := pos <= len(tokens)
		var raw string
		if present {
			raw = tokens[pos-1]
		}
		if err := p.Apply(e, spec, raw, present); err != nil {
			return nil, err
		}
	}
	return e, nil
}
