// Package timestamp handles the timestamp formats that flow through log
// envelopes and typed Date fields.
//
// Envelope timestamps are ISO-8601 and parsed leniently: digit padding is
// optional, fractional seconds are optional and a missing zone means UTC.
//
//	t, err := timestamp.ParseISO("2001-5-5T01:02:03.001Z")
//
// Date fields are described with the date patterns administrators already know
// from log tooling (yyyy-MM-dd HH:mm:ss). Layout converts such a pattern to a
// Go reference layout that accepts both padded and unpadded numbers.
//
//	layout, err := timestamp.Layout("yyyy-MM-dd HH:mm:ss")
//	t, err := time.ParseInLocation(layout, "2001-5-5 5:5:5", time.UTC)
//
// Stored entries use int64 milliseconds since the Unix epoch; 0 means unset.
package timestamp

import (
	"fmt"
	"strings"
	"time"
)

// isoLayouts are tried in order by ParseISO.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2T15:4:5Z0700",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2 15:4:5",
}

// ParseISO parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseISO(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", value)
}

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Layout converts a date pattern such as "yyyy-MM-dd HH:mm:ss.SSS" to a Go
// reference layout. Numeric components convert to their unpadded Go forms,
// which accept one or two digits when parsing.
//
// Supported letters: y M d H h m s S a E Z X z. Text in single quotes is
// literal; two quotes in a row produce one quote.
func Layout(pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("empty date pattern")
	}

	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		r := runes[i]

		if r == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				b.WriteRune('\'')
				i += 2
				continue
			}
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return "", fmt.Errorf("date pattern %q has an unterminated quote", pattern)
			}
			continue
		}

		if !isPatternLetter(r) {
			b.WriteRune(r)
			i++
			continue
		}

		n := 1
		for i+n < len(runes) && runes[i+n] == r {
			n++
		}

		token, err := layoutToken(r, n, b.String())
		if err != nil {
			return "", fmt.Errorf("date pattern %q: %w", pattern, err)
		}
		b.WriteString(token)
		i += n
	}

	return b.String(), nil
}

func isPatternLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func layoutToken(letter rune, count int, preceding string) (string, error) {
	switch letter {
	case 'y':
		if count == 2 {
			return "06", nil
		}
		return "2006", nil
	case 'M':
		switch {
		case count <= 2:
			return "1", nil
		case count == 3:
			return "Jan", nil
		default:
			return "January", nil
		}
	case 'd':
		return "2", nil
	case 'H':
		return "15", nil
	case 'h':
		return "3", nil
	case 'm':
		return "4", nil
	case 's':
		return "5", nil
	case 'S':
		// Go only recognises fractions directly after a separator.
		if strings.HasSuffix(preceding, ".") || strings.HasSuffix(preceding, ",") {
			return strings.Repeat("0", count), nil
		}
		return "", fmt.Errorf("fraction of second must follow '.' or ','")
	case 'a':
		return "PM", nil
	case 'E':
		if count <= 3 {
			return "Mon", nil
		}
		return "Monday", nil
	case 'Z':
		return "-0700", nil
	case 'X':
		if count >= 3 {
			return "Z07:00", nil
		}
		return "Z0700", nil
	case 'z':
		return "MST", nil
	default:
		return "", fmt.Errorf("unsupported pattern letter %q", letter)
	}
}
