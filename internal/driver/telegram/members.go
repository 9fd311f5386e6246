package telegram

import (
	"context"
	"fmt"

	"snipebot/pkg/snipebot"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// Telegram has no server roles; a participant's standing is exposed as one
// pseudo role id that allow-lists can name.
const (
	RoleCreator = "creator"
	RoleAdmin   = "admin"
	RoleMember  = "member"
)

type participantRPC interface {
	GetParticipant(ctx context.Context, channel *tg.InputChannel, participant tg.InputPeerClass) (tg.ChannelParticipantClass, error)
}

// MemberDirectory resolves supergroup membership through channels.getParticipant.
type MemberDirectory struct {
	rpc   participantRPC
	peers *PeerCache
	sink  snipebot.SinkRef
}

// NewMemberDirectory creates a directory backed by the gotd client.
func NewMemberDirectory(client *gotdtelegram.Client, peers *PeerCache, sink snipebot.SinkRef) (*MemberDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram member directory: nil client")
	}

	return newMemberDirectoryWithRPC(gotdParticipantRPC{raw: client.API()}, peers, sink)
}

func newMemberDirectoryWithRPC(rpc participantRPC, peers *PeerCache, sink snipebot.SinkRef) (*MemberDirectory, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram member directory: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram member directory: nil peer cache")
	}
	if sink.Platform == "" {
		sink.Platform = DriverPlatform
	}

	return &MemberDirectory{rpc: rpc, peers: peers, sink: sink}, nil
}

// LookupMember returns the pseudo role of actorID in supergroup tenantID.
// Telegram exposes no boost state to bots, so Boosted is always false.
func (m *MemberDirectory) LookupMember(
	ctx context.Context,
	tenantID string,
	actorID string,
) (snipebot.Membership, error) {
	if tenantID == "" || actorID == "" {
		return snipebot.Membership{}, fmt.Errorf("lookup member: %w", snipebot.ErrMemberNotFound)
	}

	channel, err := m.peers.ResolveChannel(tenantID)
	if err != nil {
		return snipebot.Membership{}, fmt.Errorf("lookup member %s: %w", actorID, err)
	}
	user, err := m.peers.ResolveUser(actorID)
	if err != nil {
		return snipebot.Membership{}, fmt.Errorf("lookup member %s: %w: %w", actorID, snipebot.ErrMemberNotFound, err)
	}

	participant, err := m.rpc.GetParticipant(ctx, channel, user)
	if err != nil {
		if tgerr.Is(err, "USER_NOT_PARTICIPANT", "PARTICIPANT_ID_INVALID") {
			return snipebot.Membership{}, fmt.Errorf("lookup member %s: %w", actorID, snipebot.ErrMemberNotFound)
		}

		return snipebot.Membership{}, fmt.Errorf(
			"lookup member %s: %w",
			actorID,
			mapTelegramOutboundError(snipebot.OutboundOperationLookupMember, m.sink, err),
		)
	}

	role := participantRole(participant)
	if role == "" {
		return snipebot.Membership{}, fmt.Errorf("lookup member %s: %w", actorID, snipebot.ErrMemberNotFound)
	}

	return snipebot.Membership{RoleIDs: []string{role}}, nil
}

// participantRole returns "" for users who left or were banned.
func participantRole(participant tg.ChannelParticipantClass) string {
	switch participant.(type) {
	case *tg.ChannelParticipantCreator:
		return RoleCreator
	case *tg.ChannelParticipantAdmin:
		return RoleAdmin
	case *tg.ChannelParticipant, *tg.ChannelParticipantSelf:
		return RoleMember
	default:
		return ""
	}
}

type gotdParticipantRPC struct {
	raw *tg.Client
}

func (r gotdParticipantRPC) GetParticipant(
	ctx context.Context,
	channel *tg.InputChannel,
	participant tg.InputPeerClass,
) (tg.ChannelParticipantClass, error) {
	result, err := r.raw.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     channel,
		Participant: participant,
	})
	if err != nil {
		return nil, fmt.Errorf("channels.getParticipant: %w", err)
	}

	return result.Participant, nil
}
