package discord

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

func mapDiscordOutboundError(
	operation snipebot.OutboundOperation,
	sink snipebot.SinkRef,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, snipebot.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &snipebot.OutboundError{
		Operation: operation,
		Kind:      snipebot.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		outboundErr.Kind = snipebot.OutboundErrorKindRateLimited
		outboundErr.Code = http.StatusTooManyRequests
		if rateErr.RateLimit != nil && rateErr.TooManyRequests != nil {
			outboundErr.RetryAfter = rateErr.RetryAfter
			outboundErr.Type = rateErr.Bucket
		}

		return outboundErr
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			outboundErr.Kind = snipebot.OutboundErrorKindTemporary
		}

		return outboundErr
	}

	if restErr.Response != nil {
		outboundErr.Code = restErr.Response.StatusCode
	}
	if restErr.Message != nil && restErr.Message.Code != 0 {
		outboundErr.Type = strconv.Itoa(restErr.Message.Code)
	}
	outboundErr.Kind = classifyDiscordStatus(outboundErr.Code)

	return outboundErr
}

func classifyDiscordStatus(status int) snipebot.OutboundErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return snipebot.OutboundErrorKindRateLimited
	case status >= 500:
		return snipebot.OutboundErrorKindTemporary
	case status >= 400:
		return snipebot.OutboundErrorKindPermanent
	default:
		return snipebot.OutboundErrorKindUnknown
	}
}
