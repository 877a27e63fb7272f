// Package syslog adds an RFC 5424 entry parser to a parser.Factory.
//
// The message body is read as a syslog line. Fields are looked up by name
// among the header parts (hostname, appname, procid, msgid, facility,
// severity, version, message) and by "sdid.param" among structured data.
// A field's "sd_param" property overrides the lookup key.
//
// When the envelope carries no severity the syslog severity is used.
package syslog

import (
	"strconv"
	"strings"

	gosyslog "github.com/leodido/go-syslog/v4"
	"github.com/leodido/go-syslog/v4/rfc5424"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/repository"
)

// Type is the factory tag of the syslog parser
const Type = "syslog5424"

// PropertyKey overrides the lookup key of a field
const PropertyKey = "sd_param"

// Register adds the syslog parser to f
func Register(f *parser.Factory) error {
	return f.Register(Type, func(repo repository.Config, cfg repository.ParserConfig) (parser.Parser, error) {
		return New(repo, cfg)
	})
}

// Parser reads RFC 5424 lines
type Parser struct {
	*parser.Base
	machine gosyslog.Machine
	keys    []string
}

// New builds a syslog parser
func New(repo repository.Config, cfg repository.ParserConfig) (*Parser, error) {
	base, err := parser.NewBase(repo, cfg)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(cfg.Fields))
	for i, fc := range cfg.Fields {
		keys[i] = fc.Name
		if k := fc.Properties[PropertyKey]; k != "" {
			keys[i] = k
		}
	}

	return &Parser{
		Base:    base,
		machine: rfc5424.NewParser(rfc5424.WithBestEffort()),
		keys:    keys,
	}, nil
}

// Parse reads in.Message as a syslog line. A line without a valid header fails
// regardless of the field policy.
func (p *Parser) Parse(in parser.Input) (*entry.Entry, error) {
	e, err := p.Begin(in)
	if err != nil {
		return nil, err
	}

	parsed, err := p.machine.Parse([]byte(in.Message))
	msg, ok := parsed.(*rfc5424.SyslogMessage)
	if !ok || msg == nil || !msg.Valid() {
		return nil, p.Fail("", "message is not RFC 5424 syslog", err)
	}

	if strings.TrimSpace(in.Severity) == "" && msg.Severity != nil {
		e.Severity = entry.Severity(*msg.Severity)
	}

	for i, spec := range p.Fields() {
		raw, present := lookup(msg, p.keys[i])
		if err := p.Apply(e, spec, raw, present); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func lookup(msg *rfc5424.SyslogMessage, key string) (string, bool) {
	switch key {
	case "hostname":
		return deref(msg.Hostname)
	case "appname":
		return deref(msg.Appname)
	case "procid":
		return deref(msg.ProcID)
	case "msgid":
		return deref(msg.MsgID)
	case "message":
		return deref(msg.Message)
	case "facility":
		return number(msg.Facility)
	case "severity":
		return number(msg.Severity)
	case "version":
		return strconv.Itoa(int(msg.Version)), true
	}

	sdid, param, ok := strings.Cut(key, ".")
	if !ok || msg.StructuredData == nil {
		return "", false
	}
	element, ok := (*msg.StructuredData)[sdid]
	if !ok {
		return "", false
	}
	value, ok := element[param]
	return value, ok
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func number(n *uint8) (string, bool) {
	if n == nil {
		return "", false
	}
	return strconv.Itoa(int(*n)), true
}
