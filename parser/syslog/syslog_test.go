package syslog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/repository"
)

const line = `<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog 1234 ID47 [exampleSDID@32473 iut="3" eventSource="Application"] An application event log entry`

func host(s string) *string { return &s }

func TestRegister(t *testing.T) {
	f := parser.NewFactory()
	require.NoError(t, Register(f))
	assert.Contains(t, f.Tags(), Type)
	assert.Error(t, Register(f))
}

func TestParser_Parse(t *testing.T) {
	f := parser.NewFactory()
	require.NoError(t, Register(f))

	cfg := repository.ParserConfig{
		Name:               "syslog",
		Type:               Type,
		AppliesTo:          repository.AppliesToAll,
		FieldErrorHandling: repository.SkipEntry,
		Fields: []repository.FieldConfig{
			{Name: "appname", DataType: entry.DataTypeString},
			{Name: "procid", DataType: entry.DataTypeInteger},
			{Name: "facility", DataType: entry.DataTypeInteger},
			{Name: "iut", DataType: entry.DataTypeLong, Properties: map[string]string{PropertyKey: "exampleSDID@32473.iut"}},
			{Name: "text", DataType: entry.DataTypeString, Properties: map[string]string{PropertyKey: "message"}},
		},
	}
	p, err := f.Build(repository.NewConfig("sandbox"), cfg)
	require.NoError(t, err)

	e, err := p.Parse(parser.Input{
		Timestamp: "2003-10-11T22:14:15.003Z",
		Source:    "evntslog",
		Host:      host("mymachine.example.com"),
		Message:   line,
	})
	require.NoError(t, err)

	assert.Equal(t, entry.SeverityNotice, e.Severity)
	appname, _ := e.Field("appname")
	procid, _ := e.Field("procid")
	facility, _ := e.Field("facility")
	iut, _ := e.Field("iut")
	text, _ := e.Field("text")
	assert.Equal(t, "evntslog", appname)
	assert.Equal(t, int32(1234), procid)
	assert.Equal(t, int32(20), facility)
	assert.Equal(t, int64(3), iut)
	assert.Equal(t, "An application event log entry", text)
	assert.Equal(t, line, e.Message)
}

func TestParser_EnvelopeSeverityWins(t *testing.T) {
	p, err := New(repository.NewConfig("sandbox"), repository.ParserConfig{Name: "syslog", AppliesTo: repository.AppliesToAll})
	require.NoError(t, err)

	e, err := p.Parse(parser.Input{
		Timestamp: "2003-10-11T22:14:15.003Z",
		Source:    "evntslog",
		Host:      host("h"),
		Severity:  "3",
		Message:   line,
	})
	require.NoError(t, err)
	assert.Equal(t, entry.SeverityError, e.Severity)
}

func TestParser_NotSyslog(t *testing.T) {
	p, err := New(repository.NewConfig("sandbox"), repository.ParserConfig{Name: "syslog", AppliesTo: repository.AppliesToAll})
	require.NoError(t, err)

	_, err = p.Parse(parser.Input{
		Timestamp: "2003-10-11T22:14:15.003Z",
		Source:    "evntslog",
		Host:      host("h"),
		Message:   "plain text",
	})
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.NotNil(t, p.LastError())
}
