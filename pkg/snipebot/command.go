package snipebot

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultCommandPrefix introduces commands when no prefix is configured.
const DefaultCommandPrefix = "!!"

// ValidateCommandPrefix rejects prefixes that could never start a token.
func ValidateCommandPrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("validate command prefix: empty prefix")
	case strings.ContainsAny(prefix, " \t\r\n"):
		return fmt.Errorf("validate command prefix: prefix %q contains whitespace", prefix)
	default:
		return nil
	}
}

// CommandCandidate is a message that looks like a command, split into its
// parts but not yet matched against a CommandSpec.
//
// "!!wl@snipe_bot add 42" parses to Name "wl", Mention "snipe_bot" and
// Tokens ["add" "42"].
type CommandCandidate struct {
	Prefix   string
	Name     string
	Mention  string
	RawInput string
	Tokens   []string
}

// CommandInvocation is the payload of a command.received event.
type CommandInvocation struct {
	// Name is the canonical name even when an alias was typed.
	Name    string
	Invoked string
	Mention string
	Args    []string
	// Value is Args joined by single spaces.
	Value           string
	SourceEventID   string
	SourceEventKind EventKind
	RawInput        string
}

// Validate checks the fields modules rely on.
func (c *CommandInvocation) Validate() error {
	var missing string
	switch {
	case c == nil:
		return fmt.Errorf("validate command invocation: nil invocation")
	case normalizeCommandName(c.Name) == "":
		missing = "name"
	case c.SourceEventID == "":
		missing = "source_event_id"
	case c.SourceEventKind == "":
		missing = "source_event_kind"
	}
	if missing != "" {
		return fmt.Errorf("validate command invocation: missing %s", missing)
	}

	return nil
}

// CommandSpec declares one command a module answers to.
type CommandSpec struct {
	Name    string
	Aliases []string
	// Description and Usage feed the help module. Usage lists the arguments
	// only, for example "add|remove <role>".
	Description string
	Usage       string
	MinArgs     int
	// MaxArgs of zero accepts any number of arguments.
	MaxArgs int
}

// Names returns the normalized name followed by the normalized aliases.
func (s CommandSpec) Names() []string {
	names := []string{normalizeCommandName(s.Name)}
	for _, alias := range s.Aliases {
		names = append(names, normalizeCommandName(alias))
	}

	return names
}

// Validate rejects specs the parser could never match or that disagree with
// themselves.
func (s CommandSpec) Validate() error {
	if normalizeCommandName(s.Name) == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if s.MinArgs < 0 || s.MaxArgs < 0 {
		return fmt.Errorf("validate command spec %s: negative argument bound", s.Name)
	}
	if s.MaxArgs > 0 && s.MaxArgs < s.MinArgs {
		return fmt.Errorf("validate command spec %s: max_args %d below min_args %d", s.Name, s.MaxArgs, s.MinArgs)
	}

	names := s.Names()
	for idx, name := range names {
		switch {
		case name == "":
			return fmt.Errorf("validate command spec %s: empty alias", s.Name)
		case strings.ContainsAny(name, " \t\r\n@"):
			return fmt.Errorf("validate command spec %s: invalid name %q", s.Name, name)
		case slices.Contains(names[:idx], name):
			return fmt.Errorf("validate command spec %s: duplicate name %q", s.Name, name)
		}
	}

	return nil
}

// UsageLine renders "<prefix><name> <usage>".
func (s CommandSpec) UsageLine(prefix string) string {
	line := prefix + normalizeCommandName(s.Name)
	if usage := strings.TrimSpace(s.Usage); usage != "" {
		line += " " + usage
	}

	return line
}

// ParseCommandCandidate splits text when its first token starts with prefix.
//
// matched is false for ordinary messages. A bare prefix still matches, and
// the error then reports the missing command name.
func ParseCommandCandidate(text string, prefix string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(text)
	if prefix == "" || len(fields) == 0 {
		return candidate, false, nil
	}
	header, ok := strings.CutPrefix(fields[0], prefix)
	if !ok {
		return candidate, false, nil
	}

	name, mention, _ := strings.Cut(header, "@")
	candidate.Prefix = prefix
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = mention
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}
	if len(fields) > 1 {
		candidate.Tokens = slices.Clone(fields[1:])
	}

	return candidate, true, nil
}

// BindCommand checks candidate against spec and builds the invocation for
// the command event derived from sourceEvent.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	invoked := normalizeCommandName(candidate.Name)
	if !slices.Contains(spec.Names(), invoked) {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}
	if err := spec.checkArity(len(candidate.Tokens)); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	invocation := CommandInvocation{
		Name:            normalizeCommandName(spec.Name),
		Invoked:         invoked,
		Mention:         candidate.Mention,
		Args:            slices.Clone(candidate.Tokens),
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

func (s CommandSpec) checkArity(count int) error {
	if count < s.MinArgs {
		return fmt.Errorf("expected at least %d argument(s), got %d", s.MinArgs, count)
	}
	if s.MaxArgs > 0 && count > s.MaxArgs {
		return fmt.Errorf("expected at most %d argument(s), got %d", s.MaxArgs, count)
	}

	return nil
}

// NormalizeCommandName returns the lookup form of a command name.
func NormalizeCommandName(value string) string {
	return normalizeCommandName(value)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
