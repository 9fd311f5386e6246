package driver

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"snipebot/pkg/snipebot"
)

type sinkRoute struct {
	ref        snipebot.SinkRef
	dispatcher snipebot.SinkDispatcher
}

// CompositeSinkDispatcher sends each request through the driver owning the
// target sink. With a single sink configured, requests without a sink go there.
type CompositeSinkDispatcher struct {
	// routes is sorted by sink id.
	routes []sinkRoute
}

// NewCompositeSinkDispatcher collects the dispatchers of runtimes that can
// send. Sink ids must be unique.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	var routes []sinkRoute
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: missing sink id")
		}
		routes = append(routes, sinkRoute{
			ref:        snipebot.SinkRef{Platform: runtime.Source.Platform, ID: runtime.Source.ID},
			dispatcher: runtime.SinkDispatcher,
		})
	}
	slices.SortFunc(routes, compareRoutes)
	for idx := 1; idx < len(routes); idx++ {
		if routes[idx].ref.ID == routes[idx-1].ref.ID {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate sink id %s", routes[idx].ref.ID)
		}
	}

	return &CompositeSinkDispatcher{routes: routes}, nil
}

func compareRoutes(left, right sinkRoute) int {
	return cmp.Compare(left.ref.ID, right.ref.ID)
}

// SendMessage forwards request to the dispatcher of its target sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request snipebot.SendMessageRequest,
) (*snipebot.OutboundMessage, error) {
	route, err := d.route(request.Target.Sink)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	sent, err := route.dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send message via %s: %w", route.ref.ID, err)
	}

	return sent, nil
}

// Sinks lists the configured sinks sorted by id.
func (d *CompositeSinkDispatcher) Sinks() []snipebot.SinkRef {
	refs := make([]snipebot.SinkRef, len(d.routes))
	for idx, route := range d.routes {
		refs[idx] = route.ref
	}

	return refs
}

func (d *CompositeSinkDispatcher) route(sink *snipebot.SinkRef) (sinkRoute, error) {
	switch {
	case d == nil:
		return sinkRoute{}, fmt.Errorf("nil dispatcher")
	case len(d.routes) == 0:
		return sinkRoute{}, fmt.Errorf("%w: no sinks configured", snipebot.ErrOutboundUnsupported)
	case sink == nil && len(d.routes) == 1:
		return d.routes[0], nil
	case sink == nil:
		return sinkRoute{}, fmt.Errorf("%w: missing target sink", snipebot.ErrOutboundUnsupported)
	case sink.ID != "":
		return d.routeByID(*sink)
	case sink.Platform != "":
		return d.routeByPlatform(sink.Platform)
	default:
		return sinkRoute{}, fmt.Errorf("%w: empty sink reference", snipebot.ErrOutboundUnsupported)
	}
}

func (d *CompositeSinkDispatcher) routeByID(ref snipebot.SinkRef) (sinkRoute, error) {
	idx, found := slices.BinarySearchFunc(d.routes, sinkRoute{ref: ref}, compareRoutes)
	if !found {
		return sinkRoute{}, fmt.Errorf("%w: sink %s not found", snipebot.ErrOutboundUnsupported, ref.ID)
	}
	route := d.routes[idx]
	if ref.Platform != "" && ref.Platform != route.ref.Platform {
		return sinkRoute{}, fmt.Errorf("%w: sink %s is %s, not %s",
			snipebot.ErrOutboundUnsupported, ref.ID, route.ref.Platform, ref.Platform)
	}

	return route, nil
}

// routeByPlatform requires exactly one sink on the platform.
func (d *CompositeSinkDispatcher) routeByPlatform(platform snipebot.Platform) (sinkRoute, error) {
	var matched []sinkRoute
	for _, route := range d.routes {
		if route.ref.Platform == platform {
			matched = append(matched, route)
		}
	}
	switch len(matched) {
	case 0:
		return sinkRoute{}, fmt.Errorf("%w: no sink for platform %s", snipebot.ErrOutboundUnsupported, platform)
	case 1:
		return matched[0], nil
	default:
		return sinkRoute{}, fmt.Errorf("%w: ambiguous sink for platform %s", snipebot.ErrOutboundUnsupported, platform)
	}
}
