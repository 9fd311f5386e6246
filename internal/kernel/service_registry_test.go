package kernel

import (
	"errors"
	"slices"
	"testing"

	"snipebot/pkg/snipebot"
)

func TestServiceRegistryResolve(t *testing.T) {
	t.Parallel()

	dispatcher := &commandReplyCaptureDispatcher{}
	tests := []struct {
		name    string
		lookup  string
		want    any
		wantErr error
	}{
		{name: "exact name", lookup: snipebot.ServiceSinkDispatcher, want: dispatcher},
		{name: "surrounding spaces", lookup: "  " + snipebot.ServiceSinkDispatcher + " ", want: dispatcher},
		{name: "other case is another name", lookup: "SNIPEBOT.SINK_DISPATCHER", wantErr: snipebot.ErrServiceNotFound},
		{name: "unknown", lookup: snipebot.ServiceMemberDirectory, wantErr: snipebot.ErrServiceNotFound},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			if err := registry.Register(snipebot.ServiceSinkDispatcher, dispatcher); err != nil {
				t.Fatalf("register failed: %v", err)
			}

			got, err := registry.Resolve(testCase.lookup)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("resolve error = %v, want %v", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("resolve = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestServiceRegistryRejectsInvalidRegistrations(t *testing.T) {
	t.Parallel()

	var nilDispatcher *commandReplyCaptureDispatcher
	var nilHook func()
	tests := []struct {
		name    string
		key     string
		service any
		wantErr error
	}{
		{name: "blank name", key: "   ", service: "value"},
		{name: "untyped nil", key: "svc", service: nil},
		{name: "typed nil pointer", key: "svc", service: nilDispatcher},
		{name: "typed nil func", key: "svc", service: nilHook},
		{name: "duplicate", key: snipebot.ServiceLogger, service: "second", wantErr: snipebot.ErrServiceAlreadyRegistered},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			if err := registry.Register(snipebot.ServiceLogger, "first"); err != nil {
				t.Fatalf("seed register failed: %v", err)
			}

			err := registry.Register(testCase.key, testCase.service)
			if err == nil {
				t.Fatal("expected register error")
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("register error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func TestServiceRegistryNames(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	for _, name := range []string{"member_directory", "logger", "command_catalog"} {
		if err := registry.Register(name, struct{}{}); err != nil {
			t.Fatalf("register %s failed: %v", name, err)
		}
	}

	want := []string{"command_catalog", "logger", "member_directory"}
	if got := registry.Names(); !slices.Equal(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
}
