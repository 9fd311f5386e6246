package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

// MemberDirectory resolves guild membership through the REST API.
type MemberDirectory struct {
	rest restClient
	sink snipebot.SinkRef
}

// NewMemberDirectory creates a directory backed by rest.
func NewMemberDirectory(rest restClient, sink snipebot.SinkRef) (*MemberDirectory, error) {
	if rest == nil {
		return nil, fmt.Errorf("new discord member directory: nil rest client")
	}
	if sink.Platform == "" {
		sink.Platform = DriverPlatform
	}

	return &MemberDirectory{rest: rest, sink: sink}, nil
}

// LookupMember returns the roles and boost state of actorID in guild tenantID.
func (m *MemberDirectory) LookupMember(
	ctx context.Context,
	tenantID string,
	actorID string,
) (snipebot.Membership, error) {
	if tenantID == "" || actorID == "" {
		return snipebot.Membership{}, fmt.Errorf("lookup member: %w", snipebot.ErrMemberNotFound)
	}

	member, err := m.rest.GuildMember(tenantID, actorID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return snipebot.Membership{}, fmt.Errorf("lookup member %s: %w", actorID, snipebot.ErrMemberNotFound)
		}

		return snipebot.Membership{}, fmt.Errorf(
			"lookup member %s: %w",
			actorID,
			mapDiscordOutboundError(snipebot.OutboundOperationLookupMember, m.sink, err),
		)
	}

	return membershipFromMember(member), nil
}
