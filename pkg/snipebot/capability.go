package snipebot

import "slices"

// Capability is one thing a module handles. The kernel refuses subscriptions
// wider than the declared Interest and modules whose RequiredServices are
// not registered.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet selects events. Empty lists match everything.
type InterestSet struct {
	Kinds     []EventKind
	TenantIDs []string
	// CommandNames only matches command events with one of these canonical
	// names.
	CommandNames []string
	// MediaTypes matches events carrying at least one attachment of a
	// listed type.
	MediaTypes      []MediaType
	RequireMutation bool
	IgnoreBots      bool
}

// Matches reports whether event passes every criterion of i.
func (i InterestSet) Matches(event *Event) bool {
	switch {
	case event == nil:
		return false
	case !listed(i.Kinds, event.Kind), !listed(i.TenantIDs, event.TenantID):
		return false
	case i.IgnoreBots && event.Actor.IsBot, i.RequireMutation && event.Mutation == nil:
		return false
	case len(i.CommandNames) > 0 && (event.Command == nil || !slices.Contains(i.CommandNames, event.Command.Name)):
		return false
	case len(i.MediaTypes) > 0:
		return slices.ContainsFunc(event.MessageMedia(), func(media MediaAttachment) bool {
			return slices.Contains(i.MediaTypes, media.Type)
		})
	default:
		return true
	}
}

// Allows reports whether filter is at least as narrow as i, so that a
// subscription using filter never sees an event outside i.
func (i InterestSet) Allows(filter InterestSet) bool {
	return narrows(filter.Kinds, i.Kinds) &&
		narrows(filter.TenantIDs, i.TenantIDs) &&
		narrows(filter.CommandNames, i.CommandNames) &&
		narrows(filter.MediaTypes, i.MediaTypes) &&
		(!i.RequireMutation || filter.RequireMutation) &&
		(!i.IgnoreBots || filter.IgnoreBots)
}

// listed treats an empty list as matching every value.
func listed[T comparable](values []T, value T) bool {
	return len(values) == 0 || slices.Contains(values, value)
}

// narrows reports whether the requested list stays inside the declared one.
// An empty requested list means everything, which only an empty declared
// list covers.
func narrows[T comparable](requested, declared []T) bool {
	if len(declared) == 0 {
		return true
	}
	if len(requested) == 0 {
		return false
	}
	for _, value := range requested {
		if !slices.Contains(declared, value) {
			return false
		}
	}

	return true
}
