// Package repository describes repositories: named, independently configured
// log streams with their queue settings and ordered parser chain.
package repository

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
)

// Status is the runtime state of a repository
type Status string

// Repository states
const (
	StatusOnline  Status = "Online"
	StatusOffline Status = "Offline"
)

// MaxMemoryPolicy decides what happens when the write queue reaches its memory limit
type MaxMemoryPolicy string

// Write queue memory policies
const (
	MaxMemoryPolicyPage  MaxMemoryPolicy = "Page"
	MaxMemoryPolicyDrop  MaxMemoryPolicy = "Drop"
	MaxMemoryPolicyBlock MaxMemoryPolicy = "Block"
)

// AppliesTo selects the messages a parser handles
type AppliesTo string

// Parser applicability
const (
	// AppliesToAll marks the catch-all parser
	AppliesToAll AppliesTo = "All"
	// AppliesToNone keeps the parser loaded but never selected
	AppliesToNone AppliesTo = "None"
	// AppliesToAllowFilter matches source and host against comma separated glob lists
	AppliesToAllowFilter AppliesTo = "AllowFilter"
	// AppliesToAllowRegex matches source and host against regular expressions
	AppliesToAllowRegex AppliesTo = "AllowRegex"
)

// FieldErrorHandling is the policy applied when a single field cannot be parsed
type FieldErrorHandling string

// Field error policies
const (
	SkipEntry FieldErrorHandling = "SkipEntry"
	SkipField FieldErrorHandling = "SkipField"
)

// Defaults for new repositories
const (
	DefaultWriteQueueWorkerCount = 1
	DefaultWriteQueueMaxMemory   = 20 * 1024 * 1024
	DefaultWriteQueuePageSize    = 4 * 1024 * 1024
	DefaultMaxKeywords           = -1
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FieldConfig describes one typed field produced by a parser
type FieldConfig struct {
	Name        string            `json:"name" yaml:"name"`
	DisplayName string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	DataType    entry.DataType    `json:"data_type" yaml:"data_type"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// ParserConfig selects and configures one entry parser
type ParserConfig struct {
	Name                  string             `json:"name" yaml:"name"`
	Type                  string             `json:"type" yaml:"type"`
	AppliesTo             AppliesTo          `json:"applies_to" yaml:"applies_to"`
	AppliesToSourceFilter string             `json:"applies_to_source_filter,omitempty" yaml:"applies_to_source_filter,omitempty"`
	AppliesToHostFilter   string             `json:"applies_to_host_filter,omitempty" yaml:"applies_to_host_filter,omitempty"`
	FieldErrorHandling    FieldErrorHandling `json:"parse_field_error_handling,omitempty" yaml:"parse_field_error_handling,omitempty"`
	Fields                []FieldConfig      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Properties            map[string]string  `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// ErrorHandling returns the field error policy, defaulting to SkipField
func (p ParserConfig) ErrorHandling() FieldErrorHandling {
	if p.FieldErrorHandling == "" {
		return SkipField
	}
	return p.FieldErrorHandling
}

// Property returns a parser property or def when unset
func (p ParserConfig) Property(key, def string) string {
	if v, ok := p.Properties[key]; ok && v != "" {
		return v
	}
	return def
}

// Config is the persisted description of one repository
type Config struct {
	Name                      string          `json:"name" yaml:"name"`
	DisplayName               string          `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description               string          `json:"description,omitempty" yaml:"description,omitempty"`
	StartupStatus             Status          `json:"startup_status" yaml:"startup_status"`
	ReadQueueDurable          bool            `json:"read_queue_durable" yaml:"read_queue_durable"`
	WriteQueueDurable         bool            `json:"write_queue_durable" yaml:"write_queue_durable"`
	WriteQueueWorkerCount     int             `json:"write_queue_worker_count" yaml:"write_queue_worker_count"`
	WriteQueueMaxMemory       int64           `json:"write_queue_max_memory" yaml:"write_queue_max_memory"`
	WriteQueueMaxMemoryPolicy MaxMemoryPolicy `json:"write_queue_max_memory_policy" yaml:"write_queue_max_memory_policy"`
	WriteQueuePageSize        int64           `json:"write_queue_page_size" yaml:"write_queue_page_size"`
	MaxKeywords               int             `json:"max_keywords" yaml:"max_keywords"`
	Parsers                   []ParserConfig  `json:"parsers,omitempty" yaml:"parsers,omitempty"`
}

// NewConfig returns a config for name with default queue settings
func NewConfig(name string) Config {
	return Config{
		Name:                      name,
		StartupStatus:             StatusOnline,
		WriteQueueDurable:         true,
		WriteQueueWorkerCount:     DefaultWriteQueueWorkerCount,
		WriteQueueMaxMemory:       DefaultWriteQueueMaxMemory,
		WriteQueueMaxMemoryPolicy: MaxMemoryPolicyPage,
		WriteQueuePageSize:        DefaultWriteQueuePageSize,
		MaxKeywords:               DefaultMaxKeywords,
	}
}

// WriteAddress returns the repository's ingest address
func (c Config) WriteAddress() string { return WriteAddress(c.Name) }

// ReadAddress returns the repository's subscription address
func (c Config) ReadAddress() string { return ReadAddress(c.Name) }

// DeadLetterAddress returns the repository's dead-letter address
func (c Config) DeadLetterAddress() string { return DeadLetterAddress(c.Name) }

// Clone returns a deep copy
func (c Config) Clone() Config {
	clone := c
	if c.Parsers == nil {
		return clone
	}
	clone.Parsers = make([]ParserConfig, len(c.Parsers))
	for i, p := range c.Parsers {
		cp := p
		cp.Properties = cloneMap(p.Properties)
		if p.Fields != nil {
			cp.Fields = make([]FieldConfig, len(p.Fields))
			for j, f := range p.Fields {
				cf := f
				cf.Properties = cloneMap(f.Properties)
				cp.Fields[j] = cf
			}
		}
		clone.Parsers[i] = cp
	}
	return clone
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate checks the config. Errors are classified invalid and wrap ErrInvalidConfig
// or ErrMissingConfig.
func (c Config) Validate() error {
	if c.Name == "" {
		return invalid(errors.ErrMissingConfig, "repository name is required")
	}
	if !namePattern.MatchString(c.Name) {
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("repository name %q may only contain letters, digits, '_' and '-'", c.Name))
	}
	if c.StartupStatus != StatusOnline && c.StartupStatus != StatusOffline {
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("startup status %q must be Online or Offline", c.StartupStatus))
	}
	if c.WriteQueueWorkerCount < 1 {
		return invalid(errors.ErrInvalidConfig, "write queue worker count must be at least 1")
	}
	if c.WriteQueueMaxMemory == 0 || c.WriteQueueMaxMemory < -1 {
		return invalid(errors.ErrInvalidConfig, "write queue max memory must be positive or -1")
	}
	switch c.WriteQueueMaxMemoryPolicy {
	case MaxMemoryPolicyPage, MaxMemoryPolicyDrop, MaxMemoryPolicyBlock:
	default:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("unknown max memory policy %q", c.WriteQueueMaxMemoryPolicy))
	}
	if c.WriteQueuePageSize <= 0 {
		return invalid(errors.ErrInvalidConfig, "write queue page size must be positive")
	}
	if c.WriteQueueMaxMemory > 0 && c.WriteQueuePageSize > c.WriteQueueMaxMemory {
		return invalid(errors.ErrInvalidConfig, "write queue page size cannot exceed max memory")
	}
	if c.MaxKeywords < -1 {
		return invalid(errors.ErrInvalidConfig, "max keywords must be -1 or more")
	}

	parserNames := make(map[string]struct{}, len(c.Parsers))
	catchAll := 0
	for i, p := range c.Parsers {
		if err := p.validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("validate parser %d", i))
		}
		if _, dup := parserNames[p.Name]; dup {
			return invalid(errors.ErrInvalidConfig, fmt.Sprintf("duplicate parser name %q", p.Name))
		}
		parserNames[p.Name] = struct{}{}
		if p.AppliesTo == AppliesToAll {
			catchAll++
		}
	}
	if catchAll > 1 {
		return invalid(errors.ErrInvalidConfig, "only one parser may apply to All")
	}
	return nil
}

func (p ParserConfig) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: parser name is required", errors.ErrMissingConfig)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: parser %s has no type", errors.ErrMissingConfig, p.Name)
	}
	switch p.AppliesTo {
	case AppliesToAll, AppliesToNone, AppliesToAllowFilter, AppliesToAllowRegex:
	default:
		return fmt.Errorf("%w: parser %s applies to %q", errors.ErrInvalidConfig, p.Name, p.AppliesTo)
	}
	switch p.FieldErrorHandling {
	case "", SkipEntry, SkipField:
	default:
		return fmt.Errorf("%w: parser %s field error handling %q", errors.ErrInvalidConfig, p.Name, p.FieldErrorHandling)
	}

	fieldNames := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: parser %s has a field without a name", errors.ErrMissingConfig, p.Name)
		}
		if _, dup := fieldNames[f.Name]; dup {
			return fmt.Errorf("%w: parser %s has duplicate field %q", errors.ErrInvalidConfig, p.Name, f.Name)
		}
		fieldNames[f.Name] = struct{}{}
		if !f.DataType.Valid() {
			return fmt.Errorf("%w: field %s has data type %q", errors.ErrInvalidConfig, f.Name, f.DataType)
		}
	}
	return nil
}

// IntProperty reads an integer field property
func (f FieldConfig) IntProperty(key string) (int, bool, error) {
	v, ok := f.Properties[key]
	if !ok || v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%w: field %s property %s=%q is not a number", errors.ErrInvalidConfig, f.Name, key, v)
	}
	return n, true, nil
}

func invalid(sentinel error, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", sentinel, msg), "Config", "Validate", "check repository")
}
