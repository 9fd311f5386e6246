package kernel

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"snipebot/pkg/snipebot"
)

// ServiceRegistry holds the process singletons shared between the bot's modules
// and drivers. Names are case-sensitive and trimmed of surrounding spaces.
type ServiceRegistry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{entries: make(map[string]any)}
}

// Register binds service to name. A name can be bound once.
func (r *ServiceRegistry) Register(name string, service any) error {
	key := strings.TrimSpace(name)
	if key == "" {
		return fmt.Errorf("register service: empty name")
	}
	if isNilService(service) {
		return fmt.Errorf("register service %s: nil service", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.entries[key]; taken {
		return fmt.Errorf("register service %s: %w", key, snipebot.ErrServiceAlreadyRegistered)
	}
	r.entries[key] = service

	return nil
}

// Resolve returns the service bound to name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return nil, fmt.Errorf("resolve service: empty name")
	}

	r.mu.RLock()
	service, found := r.entries[key]
	r.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("resolve service %s: %w", key, snipebot.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists the bound service names in lexical order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)

	return names
}

// isNilService also catches typed nil pointers, maps and funcs wrapped in any.
func isNilService(service any) bool {
	if service == nil {
		return true
	}
	value := reflect.ValueOf(service)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return value.IsNil()
	default:
		return false
	}
}
