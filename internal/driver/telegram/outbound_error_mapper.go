package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"snipebot/pkg/snipebot"
)

// mapTelegramOutboundError wraps an RPC failure into an OutboundError. Flood
// waits carry the server-provided delay in RetryAfter. Request validation
// errors pass through untouched.
func mapTelegramOutboundError(
	operation snipebot.OutboundOperation,
	sink snipebot.SinkRef,
	err error,
) error {
	if err == nil || errors.Is(err, snipebot.ErrInvalidOutboundRequest) {
		return err
	}

	mapped := &snipebot.OutboundError{
		Operation: operation,
		Kind:      snipebot.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}
	rpcErr, isRPC := tgerr.As(err)
	if isRPC {
		mapped.Code, mapped.Type = rpcErr.Code, rpcErr.Type
	}

	if wait, flooded := tgerr.AsFloodWait(err); flooded {
		mapped.Kind = snipebot.OutboundErrorKindRateLimited
		mapped.RetryAfter = wait
	} else if isRPC {
		mapped.Kind = rpcErrorKind(rpcErr.Code, rpcErr.Type)
	} else if errors.Is(err, context.DeadlineExceeded) {
		mapped.Kind = snipebot.OutboundErrorKindTemporary
	}

	return mapped
}

// rpcErrorKind classifies MTProto error codes. 303 is a datacenter
// migration, which the client retries on its own.
func rpcErrorKind(code int, errorType string) snipebot.OutboundErrorKind {
	switch {
	case code == 420, code == 429, strings.Contains(strings.ToUpper(errorType), "FLOOD"):
		return snipebot.OutboundErrorKindRateLimited
	case code == 303, code >= 500:
		return snipebot.OutboundErrorKindTemporary
	case code >= 400 && code <= 406:
		return snipebot.OutboundErrorKindPermanent
	default:
		return snipebot.OutboundErrorKindUnknown
	}
}
