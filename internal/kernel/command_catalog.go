package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"snipebot/pkg/snipebot"
)

// kernelCommandCatalog exposes kernel command registrations through ServiceRegistry.
type kernelCommandCatalog struct {
	kernel *Kernel
}

// ListCommands returns one entry per registered command sorted by name then module.
// Aliases are reported on their command, never as separate entries.
func (c *kernelCommandCatalog) ListCommands(ctx context.Context) ([]snipebot.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	c.kernel.mu.RLock()
	commands := make([]snipebot.RegisteredCommand, 0, len(c.kernel.commands))
	for key, registration := range c.kernel.commands {
		if key != registration.spec.Name {
			continue
		}
		commands = append(commands, snipebot.RegisteredCommand{
			ModuleName: registration.moduleName,
			Prefix:     c.kernel.cfg.commandPrefix,
			Command:    cloneCommandSpec(registration.spec),
		})
	}
	c.kernel.mu.RUnlock()

	slices.SortFunc(commands, func(left, right snipebot.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(left.Command.Name, right.Command.Name),
			cmp.Compare(left.ModuleName, right.ModuleName),
		)
	})

	return commands, nil
}

var _ snipebot.CommandCatalog = (*kernelCommandCatalog)(nil)
