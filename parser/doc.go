// Package parser turns raw log records into typed entries.
//
// A Parser is built from one repository.ParserConfig. Every variant first
// validates the message envelope (timestamp, source, host and message), then
// extracts the configured fields and coerces them to their declared data
// types. Malformed input is an expected outcome: Parse returns a *Failure
// instead of panicking and the parser keeps it as LastError until the next
// call.
//
// Built-in variants:
//
//   - delimited: splits the message on a single character, fields pick a
//     1-based "position"
//   - regex: applies "pattern", fields map to capture groups by name, by the
//     "group" property or by field order
//   - json: decodes the message as a JSON object, fields look up same-named
//     properties
//   - default: keeps the message as is and only decodes the producer's fields
//     hint
//
// Further formats plug in through Factory.Register, see package
// parser/syslog.
//
// Parsers carry per-call state and are not safe for concurrent use. Each
// storage worker builds its own Chain.
package parser
