// Package access decides who may use the recovery commands.
package access

import (
	"context"
	"log/slog"
	"slices"

	"snipebot/pkg/snipebot"
)

// AllowListSource supplies the role ids granted access.
type AllowListSource interface {
	AllowedRoleIDs(ctx context.Context) ([]string, error)
}

// Policy authorizes server boosters and holders of an allowed role.
type Policy struct {
	source AllowListSource
	logger *slog.Logger
}

// NewPolicy creates a policy reading the allow-list from source on every check.
func NewPolicy(source AllowListSource, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}

	return &Policy{source: source, logger: logger}
}

// IsAuthorized reports whether member may run recovery commands.
//
// A failing allow-list source counts as an empty allow-list, so boosters keep
// access while everyone else is refused.
func (p *Policy) IsAuthorized(ctx context.Context, member snipebot.Membership) bool {
	if member.Boosted {
		return true
	}
	if len(member.RoleIDs) == 0 || p.source == nil {
		return false
	}

	allowed, err := p.source.AllowedRoleIDs(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "allow-list unavailable, treating as empty", "error", err)
		return false
	}

	return slices.ContainsFunc(member.RoleIDs, func(roleID string) bool {
		return slices.Contains(allowed, roleID)
	})
}
