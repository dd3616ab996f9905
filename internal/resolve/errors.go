package resolve

import (
	"fmt"
	"strings"

	"vidgrab/internal/extract"
)

// StrategyError is one failed attempt.
type StrategyError struct {
	Strategy string
	Err      error
}

// Kind classifies the attempt's failure.
func (e StrategyError) Kind() extract.Kind { return extract.KindOf(e.Err) }

func (e StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

// RestrictedError means the content is age, login or privacy gated. Other
// strategies cannot help.
type RestrictedError struct {
	Strategy string
	Err      error
}

func (e *RestrictedError) Error() string {
	return "content restricted: " + e.Err.Error()
}

func (e *RestrictedError) Unwrap() error { return e.Err }

// NotFoundError means the content does not exist upstream.
type NotFoundError struct {
	Strategy string
	Err      error
}

func (e *NotFoundError) Error() string {
	return "content not found: " + e.Err.Error()
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Reason summarizes why every strategy failed.
type Reason string

const (
	ReasonRateLimited         Reason = "rate_limited"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
	ReasonFormatUnavailable   Reason = "format_unavailable"
	ReasonUnavailable         Reason = "unavailable"
)

// ExhaustedError is returned when no strategy succeeded. Causes are in
// attempt order. Err is set when the caller's context ended the loop early.
type ExhaustedError struct {
	Format string
	Causes []StrategyError
	Err    error
}

// Reason reports rate limiting if any attempt was rate limited, upstream
// unavailability if every attempt failed transiently, and format
// unavailability if any attempt found no matching format.
func (e *ExhaustedError) Reason() Reason {
	if len(e.Causes) == 0 {
		return ReasonUpstreamUnavailable
	}
	allTransient := true
	formatMissing := false
	for _, c := range e.Causes {
		switch c.Kind() {
		case extract.RateLimited:
			return ReasonRateLimited
		case extract.FormatUnavailable:
			formatMissing = true
		}
		if c.Kind() != extract.Transient {
			allTransient = false
		}
	}
	switch {
	case allTransient:
		return ReasonUpstreamUnavailable
	case formatMissing:
		return ReasonFormatUnavailable
	}
	return ReasonUnavailable
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d strategies failed", len(e.Causes))
	if e.Format != "" {
		fmt.Fprintf(&b, " for format %q", e.Format)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	for _, c := range e.Causes {
		b.WriteString("; ")
		b.WriteString(c.Error())
	}
	return b.String()
}

// Unwrap exposes the per-strategy errors and any context error.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Causes)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, c := range e.Causes {
		errs = append(errs, c.Err)
	}
	return errs
}
