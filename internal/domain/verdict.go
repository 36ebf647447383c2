package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GateVerdict is the gatekeeper's judgement on a build iteration.
type GateVerdict string

const (
	VerdictPass       GateVerdict = "PASS"
	VerdictFail       GateVerdict = "FAIL"
	VerdictNeedsHuman GateVerdict = "NEEDS_HUMAN"
)

// ErrInvalidVerdict indicates a verdict value outside PASS/FAIL/NEEDS_HUMAN.
var ErrInvalidVerdict = errors.New("invalid gate verdict")

// ParseVerdict validates a raw verdict string. Unrecognized values are a
// fatal input error, never silently defaulted.
func ParseVerdict(s string) (GateVerdict, error) {
	switch GateVerdict(strings.ToUpper(strings.TrimSpace(s))) {
	case VerdictPass:
		return VerdictPass, nil
	case VerdictFail:
		return VerdictFail, nil
	case VerdictNeedsHuman:
		return VerdictNeedsHuman, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
}

// VerdictRecord is the gatekeeper/verdict.json payload.
type VerdictRecord struct {
	Verdict   string    `json:"verdict"`
	Notes     string    `json:"notes,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
}
