package parser

import (
	"fmt"
	"strings"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/pkg/timestamp"
	"github.com/zhikook/chililog-server/repository"
)

// Input is one raw record as read from the write queue envelope
type Input struct {
	Timestamp string
	Source    string
	Host      *string // nil when the producer did not set a host
	Severity  string
	Fields    string // optional structured-fields hint, a JSON object
	Message   string
}

// Parser converts an Input into an entry or reports a *Failure
type Parser interface {
	Name() string
	// AppliesTo reports whether the parser's applicability filter matches
	AppliesTo(source, host string) bool
	Parse(in Input) (*entry.Entry, error)
	// LastError returns the failure of the latest Parse call, nil after a success
	LastError() error
}

// Failure describes why a record could not be parsed.
// It matches errors.ErrParsingFailed with errors.Is.
type Failure struct {
	Parser string
	Field  string // empty for envelope and record level failures
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("parser ")
	b.WriteString(f.Parser)
	if f.Field != "" {
		b.WriteString(" field ")
		b.WriteString(f.Field)
	}
	b.WriteString(": ")
	b.WriteString(f.Reason)
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// Is makes every Failure match errors.ErrParsingFailed
func (f *Failure) Is(target error) bool {
	return target == errors.ErrParsingFailed
}

// Base holds what all parser variants share: identity, applicability,
// compiled field specs, the field error policy and the last failure.
// Variants embed *Base.
type Base struct {
	name        string
	repository  string
	maxKeywords int
	policy      repository.FieldErrorHandling
	applies     matchFunc
	fields      []FieldSpec
	lastErr     error
}

// NewBase compiles the shared parts of cfg
func NewBase(repo repository.Config, cfg repository.ParserConfig) (*Base, error) {
	applies, err := newMatcher(cfg)
	if err != nil {
		return nil, err
	}

	fields := make([]FieldSpec, 0, len(cfg.Fields))
	for i, fc := range cfg.Fields {
		spec, err := newFieldSpec(fc, i)
		if err != nil {
			return nil, err
		}
		fields = append(fields, spec)
	}

	return &Base{
		name:        cfg.Name,
		repository:  repo.Name,
		maxKeywords: repo.MaxKeywords,
		policy:      cfg.ErrorHandling(),
		applies:     applies,
		fields:      fields,
	}, nil
}

// Name returns the configured parser name
func (b *Base) Name() string { return b.name }

// AppliesTo reports whether the parser handles records from source and host
func (b *Base) AppliesTo(source, host string) bool { return b.applies(source, host) }

// LastError returns the failure recorded by the latest Parse call
func (b *Base) LastError() error { return b.lastErr }

// Fields returns the compiled field specs in configured order
func (b *Base) Fields() []FieldSpec { return b.fields }

// Policy returns the field error policy
func (b *Base) Policy() repository.FieldErrorHandling { return b.policy }

// Begin clears the last failure and validates the envelope. On success it
// returns an entry holding the envelope values and keywords.
func (b *Base) Begin(in Input) (*entry.Entry, error) {
	b.lastErr = nil

	switch {
	case strings.TrimSpace(in.Timestamp) == "":
		return nil, b.Fail("timestamp", "timestamp is blank", nil)
	case strings.TrimSpace(in.Source) == "":
		return nil, b.Fail("source", "source is blank", nil)
	case in.Host == nil:
		return nil, b.Fail("host", "host is missing", nil)
	case strings.TrimSpace(in.Message) == "":
		return nil, b.Fail("message", "message is blank", nil)
	}

	ts, err := timestamp.ParseISO(in.Timestamp)
	if err != nil {
		return nil, b.Fail("timestamp", "timestamp is not ISO-8601", err)
	}

	return &entry.Entry{
		Repository: b.repository,
		Timestamp:  ts,
		Source:     in.Source,
		Host:       *in.Host,
		Severity:   entry.ParseSeverity(in.Severity),
		Message:    in.Message,
		Keywords:   entry.Keywords(in.Message, b.maxKeywords),
	}, nil
}

// Apply coerces raw for spec and adds it to e. A missing or invalid value is
// dropped under SkipField and fails the record under SkipEntry.
func (b *Base) Apply(e *entry.Entry, spec FieldSpec, raw string, present bool) error {
	value, err := spec.Coerce(raw, present)
	if err == nil {
		e.AddField(spec.Name, spec.DataType, value)
		return nil
	}
	if b.policy == repository.SkipEntry {
		return b.Fail(spec.Name, "cannot read field", err)
	}
	return nil
}

// Fail records and returns a failure
func (b *Base) Fail(field, reason string, err error) error {
	f := &Failure{Parser: b.name, Field: field, Reason: reason, Err: err}
	b.lastErr = f
	return f
}

// errMissing is reported for fields with no value and no default
var errMissing = fmt.Errorf("value is missing")
