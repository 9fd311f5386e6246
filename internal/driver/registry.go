package driver

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"snipebot/pkg/snipebot"
)

// Definition selects one driver instance to build.
type Definition struct {
	// Name identifies the instance and becomes its source and sink id.
	Name string
	// Type picks the builder, e.g. "discord" or "telegram".
	Type    string
	Enabled bool
}

// Runtime is everything one built driver contributes to the process.
type Runtime struct {
	Source snipebot.EventSource
	Driver snipebot.Driver
	// SinkDispatcher is nil for receive-only drivers.
	SinkDispatcher snipebot.SinkDispatcher
	// MemberDirectory is nil when the platform cannot look up roles.
	MemberDirectory snipebot.MemberDirectory
}

// BuilderFunc builds the runtime for one definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor registers a driver type.
type Descriptor struct {
	Type     string
	Platform snipebot.Platform
	Builder  BuilderFunc
}

// Registry is an immutable set of driver types, sorted by type.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry validates descriptors and returns a registry over them.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	sorted := slices.Clone(descriptors)
	for _, descriptor := range sorted {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
	}
	slices.SortFunc(sorted, byType)
	for idx := 1; idx < len(sorted); idx++ {
		if sorted[idx].Type == sorted[idx-1].Type {
			return nil, fmt.Errorf("new registry type %s: duplicate", sorted[idx].Type)
		}
	}

	return &Registry{descriptors: sorted}, nil
}

func byType(left, right Descriptor) int {
	return cmp.Compare(left.Type, right.Type)
}

func (r *Registry) lookup(driverType string) (Descriptor, bool) {
	idx, found := slices.BinarySearchFunc(r.descriptors, Descriptor{Type: driverType}, byType)
	if !found {
		return Descriptor{}, false
	}

	return r.descriptors[idx], true
}

// Types lists the registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, len(r.descriptors))
	for idx, descriptor := range r.descriptors {
		types[idx] = descriptor.Type
	}

	return types
}

// PlatformForType returns the platform a driver type speaks.
func (r *Registry) PlatformForType(driverType string) (snipebot.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}
	descriptor, found := r.lookup(driverType)
	if !found {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds the enabled definitions in order. Instance names must
// be unique. A runtime whose builder left Source blank gets the descriptor
// platform and the definition name.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	var runtimes []Runtime
	names := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		runtime, err := r.build(ctx, definition, names, logger)
		if err != nil {
			return nil, err
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(
	ctx context.Context,
	definition Definition,
	names map[string]struct{},
	logger *slog.Logger,
) (Runtime, error) {
	if definition.Name == "" {
		return Runtime{}, fmt.Errorf("build driver: empty name")
	}
	if _, taken := names[definition.Name]; taken {
		return Runtime{}, fmt.Errorf("build driver %s: duplicate name", definition.Name)
	}
	names[definition.Name] = struct{}{}

	descriptor, found := r.lookup(definition.Type)
	if !found {
		return Runtime{}, fmt.Errorf("build driver %s: unsupported type %q (known: %s)",
			definition.Name, definition.Type, strings.Join(r.Types(), ", "))
	}

	runtime, err := descriptor.Builder(ctx, definition, logger)
	if err != nil {
		return Runtime{}, fmt.Errorf("build driver %s: %w", definition.Name, err)
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("build driver %s: nil driver", definition.Name)
	}
	runtime.Source.Platform = cmp.Or(runtime.Source.Platform, descriptor.Platform)
	runtime.Source.ID = cmp.Or(runtime.Source.ID, definition.Name)

	return runtime, nil
}

// MemberDirectoryOf returns the first member directory among runtimes, or nil.
func MemberDirectoryOf(runtimes []Runtime) snipebot.MemberDirectory {
	for _, runtime := range runtimes {
		if runtime.MemberDirectory != nil {
			return runtime.MemberDirectory
		}
	}

	return nil
}
