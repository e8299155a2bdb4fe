package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string, defaulting empty to medium.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	case "":
		return SeverityMedium, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Decision is an evaluator's verdict on a single observation.
//
// Fingerprint identifies the alert condition itself, independent of
// message wording, and is the unit of deduplication: two decisions with
// equal fingerprints are "the same problem surfacing again".
type Decision struct {
	ShouldAlert bool
	Severity    Severity
	Message     string
	Fingerprint string
}

// Fingerprint hashes an alert identity into a stable hex digest.
func Fingerprint(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:16])
}
