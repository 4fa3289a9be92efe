package schemas

import (
	"errors"
	"strings"
)

// Sentinel errors for the resolution tiers. Callers distinguish them with
// errors.Is; adapters wrap them with context.
var (
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrOracleParse         = errors.New("oracle response could not be parsed")
	ErrElementNotFound     = errors.New("element not found")
	ErrElementNotVisible   = errors.New("element not visible")
	ErrLowConfidence       = errors.New("confidence below threshold")
	ErrVisionNotFound      = errors.New("vision oracle did not find the element")
	ErrVisionLowConfidence = errors.New("vision confidence below threshold")
	ErrStaleHandle         = errors.New("element handle belongs to a previous extraction pass")
	// ErrMemoryMiss marks the memory tier as having nothing to offer. Memory
	// lookups themselves report a miss as a nil match; this only labels the
	// tier in aggregated failures.
	ErrMemoryMiss = errors.New("no remembered pattern")
)

// ErrorCode is a stable, machine-readable label for a tier failure, carried
// into logs and reports.
type ErrorCode string

const (
	ErrCodeOracleUnavailable   ErrorCode = "ORACLE_UNAVAILABLE"
	ErrCodeOracleParse         ErrorCode = "ORACLE_PARSE_ERROR"
	ErrCodeElementNotFound     ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeElementNotVisible   ErrorCode = "ELEMENT_NOT_VISIBLE"
	ErrCodeLowConfidence       ErrorCode = "LOW_CONFIDENCE"
	ErrCodeMemoryMiss          ErrorCode = "MEMORY_MISS"
	ErrCodeVisionNotFound      ErrorCode = "VISION_NOT_FOUND"
	ErrCodeVisionLowConfidence ErrorCode = "VISION_LOW_CONFIDENCE"
	ErrCodeStaleHandle         ErrorCode = "STALE_HANDLE"
	ErrCodeExecutionFailure    ErrorCode = "EXECUTION_FAILURE"
)

// CodeFor maps an error onto its ErrorCode.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOracleUnavailable):
		return ErrCodeOracleUnavailable
	case errors.Is(err, ErrOracleParse):
		return ErrCodeOracleParse
	case errors.Is(err, ErrElementNotVisible):
		return ErrCodeElementNotVisible
	case errors.Is(err, ErrElementNotFound):
		return ErrCodeElementNotFound
	case errors.Is(err, ErrLowConfidence):
		return ErrCodeLowConfidence
	case errors.Is(err, ErrVisionNotFound):
		return ErrCodeVisionNotFound
	case errors.Is(err, ErrVisionLowConfidence):
		return ErrCodeVisionLowConfidence
	case errors.Is(err, ErrStaleHandle):
		return ErrCodeStaleHandle
	case errors.Is(err, ErrMemoryMiss):
		return ErrCodeMemoryMiss
	}
	return ErrCodeExecutionFailure
}

// TierFailure records why one tier of the fallback chain did not resolve.
type TierFailure struct {
	Tier string    `json:"tier"`
	Code ErrorCode `json:"code"`
	Err  error     `json:"-"`
}

// NewTierFailure builds a TierFailure, deriving its code from err.
func NewTierFailure(tier string, err error) TierFailure {
	return TierFailure{Tier: tier, Code: CodeFor(err), Err: err}
}

func (f TierFailure) String() string {
	if f.Err == nil {
		return f.Tier + ": " + string(f.Code)
	}
	return f.Tier + ": " + f.Err.Error()
}

// ResolutionError is returned when every tier failed. Its message
// concatenates each tier's reason in the order the tiers were attempted.
type ResolutionError struct {
	Failures []TierFailure
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "all resolution tiers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every tier's error to errors.Is and errors.As.
func (e *ResolutionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
