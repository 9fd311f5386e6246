package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

var errAlreadyRunning = errors.New("kernel already running")

// Run starts modules, then supervises drivers until ctx is canceled, a driver
// fails, or every driver returns. Shutdown always runs before Run returns and
// is bounded by the shutdown timeout even after ctx is canceled.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return fmt.Errorf("kernel run: %w", errAlreadyRunning)
	}
	defer k.running.Store(false)

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdown(ctx))
	}
	k.cfg.logger.InfoContext(ctx, "kernel started",
		"prefix", k.cfg.commandPrefix,
		"services", k.services.Names(),
	)

	runErr := k.superviseDrivers(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdown(ctx))
}

// startModules calls OnStart in registration order.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.snapshotModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// superviseDrivers runs every driver under one errgroup. The first driver
// failure cancels the others. Drivers that ignore cancellation are abandoned
// after the shutdown timeout.
func (k *Kernel) superviseDrivers(ctx context.Context) error {
	drivers := k.snapshotDrivers()
	sink := k.newDriverEventSink()
	failed := make(chan error, 1)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, driver := range drivers {
		group.Go(func() error {
			name := driver.Name()
			err := runSafely("driver "+name+" Start", func() error {
				return driver.Start(groupCtx, sink)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}
			err = fmt.Errorf("run driver %s: %w", name, err)
			select {
			case failed <- err:
			default:
			}
			return err
		})
	}

	stopped := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(stopped)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-failed:
	case <-stopped:
		select {
		case runErr = <-failed:
		default:
		}
		return runErr
	}

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		k.cfg.logger.WarnContext(ctx, "drivers still running after shutdown timeout",
			"timeout", k.cfg.shutdownTimeout,
		)
	}

	return runErr
}

// shutdown stops drivers, then modules, then the bus. It detaches from ctx so
// cleanup still happens after cancellation.
func (k *Kernel) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	err := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}
	k.cfg.logger.InfoContext(shutdownCtx, "kernel stopped")

	return nil
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	var errs []error
	for _, driver := range slices.Backward(k.snapshotDrivers()) {
		name := driver.Name()
		if err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		}); err != nil {
			errs = append(errs, fmt.Errorf("shutdown driver %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// shutdownModules closes each module's subscriptions and calls OnShutdown in
// reverse registration order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	var errs []error
	for _, record := range slices.Backward(k.snapshotModules()) {
		if err := record.closeSubscriptions(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}

		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return errors.Join(errs...)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
