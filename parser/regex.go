package parser

import (
	"fmt"
	"regexp"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

// Regex parser properties
const (
	PropertyPattern = "pattern"
	PropertyGroup   = "group"
)

// Regex extracts fields from the capture groups of a pattern.
// A field takes the group with its own name, else its "group" property,
// else the group at its position in the field list.
type Regex struct {
	*Base
	pattern *regexp.Regexp
	groups  []int
}

// NewRegex builds a regex parser
func NewRegex(repo repository.Config, cfg repository.ParserConfig) (*Regex, error) {
	base, err := NewBase(repo, cfg)
	if err != nil {
		return nil, err
	}

	expr := cfg.Property(PropertyPattern, "")
	if expr == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: parser %s needs a pattern", errors.ErrMissingConfig, cfg.Name),
			"Regex", "New", "read pattern")
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: parser %s: %v", errors.ErrInvalidConfig, cfg.Name, err),
			"Regex", "New", "compile pattern")
	}

	groups := make([]int, len(cfg.Fields))
	for i, fc := range cfg.Fields {
		group := pattern.SubexpIndex(fc.Name)
		if group < 0 {
			n, ok, err := fc.IntProperty(PropertyGroup)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Regex", "New", "read group")
			}
			group = i + 1
			if ok {
				group = n
			}
		}
		if group < 1 || group > pattern.NumSubexp() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: parser %s field %s refers to group %d of %d", errors.ErrInvalidConfig, cfg.Name, fc.Name, group, pattern.NumSubexp()),
				"Regex", "New", "map groups")
		}
		groups[i] = group
	}

	return &Regex{Base: base, pattern: pattern, groups: groups}, nil
}

// Parse matches in.Message and coerces each field's capture group.
// A message the pattern does not match fails regardless of the field policy.
func (p *Regex) Parse(in Input) (*entry.Entry, error) {
	e, err := p.Begin(in)
	if err != nil {
		return nil, err
	}

	loc := p.pattern.FindStringSubmatchIndex(in.Message)
	if loc == nil {
		return nil, p.Fail("", "message does not match pattern", nil)
	}

	for i, spec := range p.Fields() {
		start, end := loc[2*p.groups[i]], loc[2*p.groups[i]+1]
		present := start >= 0
		var raw string
		if present {
			raw = in.Message[start:end]
		}
		if err := p.Apply(e, spec, raw, present); err != nil {
			return nil, err
		}
	}
	return e, nil
}
