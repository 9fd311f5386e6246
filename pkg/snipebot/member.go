package snipebot

import "context"

// ServiceMemberDirectory is the service registry key for membership lookups.
const ServiceMemberDirectory = "snipebot.member_directory"

// MemberDirectory resolves server membership for actors whose events did not
// carry it.
type MemberDirectory interface {
	// LookupMember returns the membership of actorID inside tenantID.
	// It returns ErrMemberNotFound when the actor is not a member.
	LookupMember(ctx context.Context, tenantID string, actorID string) (Membership, error)
}

// ResolveMembership returns the membership attached to event, falling back to
// directory when the driver did not provide one. A nil directory yields an
// empty membership.
func ResolveMembership(ctx context.Context, directory MemberDirectory, event *Event) (Membership, error) {
	if event == nil {
		return Membership{}, nil
	}
	if event.Actor.Member != nil {
		return *event.Actor.Member, nil
	}
	if directory == nil || event.Actor.ID == "" {
		return Membership{}, nil
	}

	return directory.LookupMember(ctx, event.TenantID, event.Actor.ID)
}
