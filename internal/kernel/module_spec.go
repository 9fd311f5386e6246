package kernel

import (
	"fmt"

	"snipebot/pkg/snipebot"
)

// nameSet records names already claimed inside one module declaration.
type nameSet map[string]struct{}

func (s nameSet) claim(name string) bool {
	if _, taken := s[name]; taken {
		return false
	}
	s[name] = struct{}{}

	return true
}

// validateModuleSpec rejects declarations the kernel could not wire: unnamed
// or repeated capabilities, handlers without a function, repeated subscription
// names, and command names or aliases declared twice.
func validateModuleSpec(spec snipebot.ModuleSpec) error {
	capabilities := nameSet{}
	subscriptions := nameSet{}
	commands := nameSet{}

	for idx, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("module handler %d: empty capability name", idx)
		case !capabilities.claim(name):
			return fmt.Errorf("module handler %d: duplicate capability name %s", idx, name)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		if sub := handler.Subscription.Name; sub != "" && !subscriptions.claim(sub) {
			return fmt.Errorf("module handler %s: duplicate subscription name %s", name, sub)
		}
	}

	for idx, capability := range spec.AdditionalCapabilities {
		switch {
		case capability.Name == "":
			return fmt.Errorf("additional capability %d: empty capability name", idx)
		case !capabilities.claim(capability.Name):
			return fmt.Errorf("additional capability %d: duplicate capability name %s", idx, capability.Name)
		}
	}

	for idx, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", idx, err)
		}
		for _, name := range command.Names() {
			if !commands.claim(name) {
				return fmt.Errorf("module command %d: duplicate command %s", idx, name)
			}
		}
	}

	return nil
}

// isEmptyInterest reports whether a handler left its filter unset, in which
// case it inherits the capability interest.
func isEmptyInterest(interest snipebot.InterestSet) bool {
	return len(interest.Kinds) == 0 &&
		len(interest.TenantIDs) == 0 &&
		len(interest.CommandNames) == 0 &&
		len(interest.MediaTypes) == 0 &&
		!interest.RequireMutation &&
		!interest.IgnoreBots
}
