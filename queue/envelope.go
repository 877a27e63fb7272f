package queue

import (
	"strconv"

	"github.com/nats-io/nats.go"
)

// Envelope header names set by producers
const (
	HeaderTimestamp = "timestamp"
	HeaderSource    = "source"
	HeaderHost      = "host"
	HeaderSeverity  = "severity"
	HeaderFields    = "fields"
)

// Dead-letter headers
const (
	HeaderOriginalAddress = "Chililog-Original-Address"
	HeaderWorker          = "Chililog-Worker"
	HeaderParseError      = "Chililog-Parse-Error"
	HeaderDeliveryCount   = "Chililog-Delivery-Count"
)

// Envelope is one raw record as it travels through the write queue
type Envelope struct {
	Timestamp string
	Source    string
	Host      *string // nil when the producer sent no host header
	Severity  string
	Fields    string
	Message   string
}

// Msg renders the envelope as a NATS message for subject
func (e Envelope) Msg(subject string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderTimestamp, e.Timestamp)
	msg.Header.Set(HeaderSource, e.Source)
	if e.Host != nil {
		msg.Header.Set(HeaderHost, *e.Host)
	}
	if e.Severity != "" {
		msg.Header.Set(HeaderSeverity, e.Severity)
	}
	if e.Fields != "" {
		msg.Header.Set(HeaderFields, e.Fields)
	}
	msg.Data = []byte(e.Message)
	return msg
}

// EnvelopeFromMsg reads envelope headers and body
func EnvelopeFromMsg(header nats.Header, data []byte) Envelope {
	env := Envelope{
		Timestamp: header.Get(HeaderTimestamp),
		Source:    header.Get(HeaderSource),
		Severity:  header.Get(HeaderSeverity),
		Fields:    header.Get(HeaderFields),
		Message:   string(data),
	}
	if values, ok := header[HeaderHost]; ok && len(values) > 0 {
		host := values[0]
		env.Host = &host
	}
	return env
}

// DeadLetter is an unparsable record with its provenance
type DeadLetter struct {
	OriginalAddress string
	Worker          string
	Reason          string
	DeliveryCount   uint64
	Envelope        Envelope
}

// Msg renders the dead letter for subject, keeping the original envelope headers
func (d DeadLetter) Msg(subject string) *nats.Msg {
	msg := d.Envelope.Msg(subject)
	msg.Header.Set(HeaderOriginalAddress, d.OriginalAddress)
	msg.Header.Set(HeaderWorker, d.Worker)
	msg.Header.Set(HeaderParseError, d.Reason)
	msg.Header.Set(HeaderDeliveryCount, strconv.FormatUint(d.DeliveryCount, 10))
	return msg
}

// DeadLetterFromMsg reads a message written by DeadLetter.Msg
func DeadLetterFromMsg(header nats.Header, data []byte) DeadLetter {
	count, _ := strconv.ParseUint(header.Get(HeaderDeliveryCount), 10, 64)
	return DeadLetter{
		OriginalAddress: header.Get(HeaderOriginalAddress),
		Worker:          header.Get(HeaderWorker),
		Reason:          header.Get(HeaderParseError),
		DeliveryCount:   count,
		Envelope:        EnvelopeFromMsg(header, data),
	}
}
