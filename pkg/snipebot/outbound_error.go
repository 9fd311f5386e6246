package snipebot

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// OutboundOperation names the platform call that failed.
type OutboundOperation string

const (
	OutboundOperationSendMessage  OutboundOperation = "send_message"
	OutboundOperationSetPresence  OutboundOperation = "set_presence"
	OutboundOperationLookupMember OutboundOperation = "lookup_member"
)

// OutboundErrorKind tells callers whether a failed call is worth retrying.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited means retry after RetryAfter, when known.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary means the same call may succeed later.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent covers missing permissions, unknown
	// channels and rejected payloads.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	OutboundErrorKindUnknown   OutboundErrorKind = "unknown"
)

// OutboundError is how drivers report a failed platform call. Code and Type
// hold the platform's own status (HTTP status or RPC code, error token).
type OutboundError struct {
	Operation  OutboundOperation
	Kind       OutboundErrorKind
	Platform   Platform
	SinkID     string
	RetryAfter time.Duration
	Code       int
	Type       string
	Cause      error
}

// Error renders the set fields as key=value pairs followed by the cause.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("outbound error")
	sep := ": "
	field := func(key, value string) {
		if value = strings.TrimSpace(value); value == "" {
			return
		}
		b.WriteString(sep)
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		sep = " "
	}
	field("operation", string(e.Operation))
	field("kind", string(e.Kind))
	field("platform", string(e.Platform))
	field("sink_id", e.SinkID)
	if e.RetryAfter > 0 {
		field("retry_after", e.RetryAfter.String())
	}
	if e.Code != 0 {
		field("code", strconv.Itoa(e.Code))
	}
	field("type", e.Type)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError finds an *OutboundError in err's chain.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if err == nil || !errors.As(err, &outboundErr) || outboundErr == nil {
		return nil, false
	}

	return outboundErr, true
}

// AsOutboundRateLimit reports whether err is a rate limit and the delay the
// platform asked for. A zero delay with true means the platform gave no hint.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
