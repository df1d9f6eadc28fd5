// Package translate implements the deterministic datapoint -> status-entry
// mapping of spec §4.D. It is pure: no I/O, no shared state.
package translate

import (
	"strconv"
	"strings"
)

// Status is the (source, type, value) triple a datapoint translates to.
// The host is supplied by the caller (the Homebase Link already knows which
// device the datapoint came from) and is not part of this package's concern.
type Status struct {
	Source string
	Type   string
	Value  string
}

// Translate maps a raw (name, value) datapoint to its canonical status
// triple per the table in spec §4.D. It is total over every non-empty name.
func Translate(name, value string) Status {
	switch {
	case name == "@keys":
		return Status{Source: "system", Type: "@keys", Value: normalizeNumeric(value)}

	case strings.HasPrefix(name, "ess/git/"):
		return Status{Source: "git", Type: strings.TrimPrefix(name, "ess/git/"), Value: normalizeNumeric(value)}

	case name == "ess/obs_active" || name == "ess/in_obs":
		return Status{Source: "ess", Type: "in_obs", Value: normalizeInt(value)}

	default:
		if idx := strings.IndexByte(name, '/'); idx != -1 {
			return Status{Source: name[:idx], Type: name[idx+1:], Value: normalizeNumeric(value)}
		}
		return Status{Source: "system", Type: name, Value: normalizeNumeric(value)}
	}
}

// normalizeInt parses value as an integer, defaulting to "0" when unparsable
// (spec §4.D "integer (0 if unparsable)").
func normalizeInt(value string) string {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return "0"
	}
	return strconv.Itoa(n)
}

// normalizeNumeric rewrites value to its canonical decimal form when it
// parses as a number, and passes everything else through untouched (spec
// §4.D "Numeric values are normalized to their canonical decimal form").
func normalizeNumeric(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return value
}
