package entry

import (
	"strconv"
	"strings"
)

// Severity is the normalized importance of a log entry. Lower codes are more severe.
type Severity int

// Severity codes follow the syslog ordering.
const (
	SeverityEmergency Severity = iota
	SeverityAction
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInformation
	SeverityDebug
)

var severityNames = [...]string{
	"Emergency",
	"Action",
	"Critical",
	"Error",
	"Warning",
	"Notice",
	"Information",
	"Debug",
}

// String returns the display name of the severity
func (s Severity) String() string {
	if s < SeverityEmergency || s > SeverityDebug {
		return "Unknown"
	}
	return severityNames[s]
}

// Code returns the numeric severity code
func (s Severity) Code() int {
	return int(s)
}

// ParseSeverity accepts a numeric code ("3") or a case-insensitive name
// ("error"). Blank or unrecognised values map to SeverityInformation.
func ParseSeverity(value string) Severity {
	value = strings.TrimSpace(value)
	if value == "" {
		return SeverityInformation
	}

	if code, err := strconv.Atoi(value); err == nil {
		if code >= int(SeverityEmergency) && code <= int(SeverityDebug) {
			return Severity(code)
		}
		return SeverityInformation
	}

	for i, name := range severityNames {
		if strings.EqualFold(name, value) {
			return Severity(i)
		}
	}

	switch strings.ToLower(value) {
	case "info":
		return SeverityInformation
	case "warn":
		return SeverityWarning
	case "crit":
		return SeverityCritical
	case "err":
		return SeverityError
	}
	return SeverityInformation
}
