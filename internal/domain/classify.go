package domain

import (
	"context"
	"errors"
	"strings"
)

// Classification buckets a worker failure for retry policy decisions.
type Classification string

const (
	ClassCrash      Classification = "crash"
	ClassTimeout    Classification = "timeout"
	ClassValidation Classification = "validation"
	ClassPermission Classification = "permission"
	ClassResource   Classification = "resource"
	ClassOther      Classification = "other"
)

// Classify determines the failure classification from an error.
func Classify(err error) Classification {
	if err == nil {
		return ClassOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(msg, "signal: killed") || strings.Contains(msg, "panic") || strings.Contains(msg, "crash") || strings.Contains(msg, "exit status"):
		return ClassCrash
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "operation not permitted"):
		return ClassPermission
	case strings.Contains(msg, "no space") || strings.Contains(msg, "too many open files") || strings.Contains(msg, "resource temporarily unavailable") || strings.Contains(msg, "out of memory"):
		return ClassResource
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed"):
		return ClassValidation
	default:
		return ClassOther
	}
}
