package types

import "time"

// ValueKind describes which field of an Observation carries the value.
type ValueKind string

const (
	ValueNone   ValueKind = "none"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueText   ValueKind = "text"
)

// Observation is the immutable result of a single observer check.
// Exactly one of Number/Bool/Text is meaningful, selected by Kind;
// ValueNone marks a degraded check (target missing, probe failed).
type Observation struct {
	Kind       ValueKind         `json:"kind"`
	Number     float64           `json:"number,omitempty"`
	Bool       bool              `json:"bool,omitempty"`
	Text       string            `json:"text,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// MatchedLines holds the newly matched log lines for log-pattern
	// observers, in file order. Empty for other observer kinds.
	MatchedLines []string `json:"matched_lines,omitempty"`
}

// NumberObservation builds a numeric observation captured now.
func NumberObservation(v float64, meta map[string]string) Observation {
	return Observation{Kind: ValueNumber, Number: v, CapturedAt: time.Now(), Metadata: meta}
}

// BoolObservation builds a boolean observation captured now.
func BoolObservation(v bool, meta map[string]string) Observation {
	return Observation{Kind: ValueBool, Bool: v, CapturedAt: time.Now(), Metadata: meta}
}

// TextObservation builds a text observation captured now.
func TextObservation(v string, meta map[string]string) Observation {
	return Observation{Kind: ValueText, Text: v, CapturedAt: time.Now(), Metadata: meta}
}

// DegradedObservation builds a valueless observation recording why the
// check could not produce a value.
func DegradedObservation(reason string) Observation {
	return Observation{
		Kind:       ValueNone,
		CapturedAt: time.Now(),
		Metadata:   map[string]string{"status": reason},
	}
}
