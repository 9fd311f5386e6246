package kernel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"snipebot/pkg/snipebot"
)

// Kernel wires the bot together: drivers publish platform events into the
// bus, modules consume them through declared capabilities, and commands are
// derived from messages carrying the configured prefix.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	// mu guards modules, drivers and commands. Slices keep registration order.
	mu       sync.RWMutex
	modules  []*moduleRecord
	drivers  []snipebot.Driver
	commands map[string]commandRegistration

	running atomic.Bool
}

// New creates a kernel and registers its command catalog service.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
		commands: make(map[string]commandRegistration),
	}
	if err := k.services.Register(snipebot.ServiceCommandCatalog, &kernelCommandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog", err)
	}

	return k
}

// CommandPrefix returns the prefix commands are routed under.
func (k *Kernel) CommandPrefix() string {
	return k.cfg.commandPrefix
}

// EventBus exposes the bus for tests and integration code.
func (k *Kernel) EventBus() snipebot.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() snipebot.ServiceRegistry {
	return k.services
}

// RegisterService binds a process singleton visible to every module.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}

	return nil
}

// RegisterModule validates the module's declaration, claims its commands,
// runs OnRegister and subscribes its declared handlers. Any failure rolls the
// module back out of the kernel.
func (k *Kernel) RegisterModule(ctx context.Context, module snipebot.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	declared := module.Spec()
	if err := validateModuleSpec(declared); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{name: name, module: module, capabilities: declared.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	if err := k.addModule(record); err != nil {
		return err
	}

	if err := k.bindModule(ctx, record, declared); err != nil {
		k.dropModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}
	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"commands", len(declared.Commands),
		"handlers", len(declared.Handlers),
	)

	return nil
}

// bindModule performs the registration steps that need rollback on failure.
func (k *Kernel) bindModule(ctx context.Context, record *moduleRecord, declared snipebot.ModuleSpec) error {
	if err := k.registerModuleCommands(record.name, declared.Commands); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	runtime := &moduleRuntime{moduleName: record.name, services: k.services, bus: k.bus, record: record}
	if registrar, ok := record.module.(snipebot.ModuleRegistrar); ok {
		if err := runSafely("module "+record.name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			return err
		}
	}

	for idx, handler := range declared.Handlers {
		spec := handler.Subscription
		if isEmptyInterest(spec.Filter) {
			spec.Filter = handler.Capability.Interest
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", record.name, idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, spec, handler.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", spec.Name, handler.Capability.Name, err)
		}
	}

	return nil
}

func (k *Kernel) addModule(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == record.name }) {
		return fmt.Errorf("register module %s: %w", record.name, snipebot.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)

	return nil
}

// dropModule undoes a partial registration. Cleanup errors are reported
// asynchronously since the registration error is already being returned.
func (k *Kernel) dropModule(ctx context.Context, record *moduleRecord) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(cleanupCtx); err != nil {
		k.cfg.onAsyncError(cleanupCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
	k.mu.Unlock()
}

// RegisterDriver adds a platform driver. Driver names are unique.
func (k *Kernel) RegisterDriver(driver snipebot.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.drivers, func(existing snipebot.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, snipebot.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// checkRequiredServices fails when a capability depends on an unbound service.
func (k *Kernel) checkRequiredServices(capabilities []snipebot.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

func (k *Kernel) snapshotModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

func (k *Kernel) snapshotDrivers() []snipebot.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}
