package snipebot

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("snipebot: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("snipebot: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("snipebot: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("snipebot: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("snipebot: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("snipebot: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("snipebot: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("snipebot: driver already registered")
	// ErrInvalidOutboundRequest indicates an outbound request that cannot be dispatched.
	ErrInvalidOutboundRequest = errors.New("snipebot: invalid outbound request")
	// ErrOutboundUnsupported indicates that no sink can serve an outbound request.
	ErrOutboundUnsupported = errors.New("snipebot: outbound operation unsupported")
	// ErrMemberNotFound indicates that a member directory has no entry for an actor.
	ErrMemberNotFound = errors.New("snipebot: member not found")
)
