package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"snipebot/pkg/snipebot"
)

// moduleRecord is the kernel's bookkeeping for one registered module.
type moduleRecord struct {
	name         string
	module       snipebot.Module
	capabilities []snipebot.Capability

	mu   sync.Mutex
	subs []snipebot.Subscription
}

func (m *moduleRecord) track(sub snipebot.Subscription) {
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
}

// closeSubscriptions closes what the module subscribed, newest first. The
// list is detached before closing so a second call is a no-op.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	var errs []error
	for _, sub := range slices.Backward(subs) {
		if err := sub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", sub.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// moduleRuntime is what a module sees of the kernel during OnRegister.
type moduleRuntime struct {
	moduleName string
	services   snipebot.ServiceRegistry
	bus        snipebot.EventBus
	record     *moduleRecord
}

// Services returns the kernel service registry.
func (r *moduleRuntime) Services() snipebot.ServiceRegistry {
	return r.services
}

// Subscribe opens a subscription owned by the module. The filter must be
// covered by one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	spec snipebot.SubscriptionSpec,
	handler snipebot.EventHandler,
) (snipebot.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if !coveredByCapability(r.record.capabilities, spec.Filter) {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, errUndeclaredInterest)
	}

	sub, err := r.bus.Subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.track(sub)

	return sub, nil
}

var errUndeclaredInterest = errors.New("subscription does not match declared module capabilities")

func coveredByCapability(capabilities []snipebot.Capability, interest snipebot.InterestSet) bool {
	return slices.ContainsFunc(capabilities, func(capability snipebot.Capability) bool {
		return capability.Interest.Allows(interest)
	})
}
