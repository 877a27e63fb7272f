package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/pkg/timestamp"
	"github.com/zhikook/chililog-server/repository"
)

// Field properties understood by every variant
const (
	PropertyDefaultValue = "default_value"
	PropertyDateFormat   = "date_format"
	PropertyDateTimezone = "date_timezone"
	PropertyTruePattern  = "true_pattern"
)

// FieldSpec is a FieldConfig compiled for repeated coercion
type FieldSpec struct {
	Name     string
	DataType entry.DataType
	Index    int // position in the parser's field list
	Config   repository.FieldConfig

	defaultValue *string
	layout       string
	location     *time.Location
	truePattern  *regexp.Regexp
}

func newFieldSpec(fc repository.FieldConfig, index int) (FieldSpec, error) {
	spec := FieldSpec{
		Name:     fc.Name,
		DataType: fc.DataType,
		Index:    index,
		Config:   fc,
		location: time.UTC,
	}

	if v, ok := fc.Properties[PropertyDefaultValue]; ok {
		spec.defaultValue = &v
	}

	if format := fc.Properties[PropertyDateFormat]; format != "" {
		layout, err := timestamp.Layout(format)
		if err != nil {
			return FieldSpec{}, configError(fc.Name, err)
		}
		spec.layout = layout
	}

	if tz := fc.Properties[PropertyDateTimezone]; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return FieldSpec{}, configError(fc.Name, err)
		}
		spec.location = loc
	}

	if pattern := fc.Properties[PropertyTruePattern]; pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return FieldSpec{}, configError(fc.Name, err)
		}
		spec.truePattern = re
	}

	if spec.defaultValue != nil {
		if _, err := spec.convert(*spec.defaultValue); err != nil {
			return FieldSpec{}, configError(fc.Name, fmt.Errorf("default value: %w", err))
		}
	}

	return spec, nil
}

// Coerce converts raw to the field's data type. A blank or absent value
// falls back to the default value when one is configured.
func (s FieldSpec) Coerce(raw string, present bool) (any, error) {
	if !present || strings.TrimSpace(raw) == "" {
		if s.defaultValue == nil {
			return nil, errMissing
		}
		raw = *s.defaultValue
	}
	return s.convert(raw)
}

func (s FieldSpec) convert(raw string) (any, error) {
	switch s.DataType {
	case entry.DataTypeString:
		return raw, nil
	case entry.DataTypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case entry.DataTypeLong:
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case entry.DataTypeDouble:
		x, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, err
		}
		// NaN and infinities cannot be stored as JSON numbers
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%q is not a finite number", raw)
		}
		return x, nil
	case entry.DataTypeBoolean:
		return s.boolean(strings.TrimSpace(raw))
	case entry.DataTypeDate:
		return s.date(strings.TrimSpace(raw))
	default:
		return nil, fmt.Errorf("unsupported data type %q", s.DataType)
	}
}

func (s FieldSpec) boolean(v string) (bool, error) {
	if s.truePattern != nil {
		return s.truePattern.MatchString(v), nil
	}
	switch {
	case strings.EqualFold(v, "true"):
		return true, nil
	case strings.EqualFold(v, "false"):
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", v)
}

func (s FieldSpec) date(v string) (time.Time, error) {
	if s.layout == "" {
		return timestamp.ParseISO(v)
	}
	t, err := time.ParseInLocation(s.layout, v, s.location)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func configError(field string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: field %s: %v", errors.ErrInvalidConfig, field, err),
		"Parser", "New", "compile field")
}
