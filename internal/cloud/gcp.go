package cloud

import (
	"context"

	"google.golang.org/api/compute/v1"
)

// Instances wraps the instance calls of the Compute Engine API behind an
// interface so the lifecycle engine can be tested against fakes.
type Instances interface {
	Get(ctx context.Context, project, zone, instance string) (*compute.Instance, error)
	Start(ctx context.Context, project, zone, instance string) (*compute.Operation, error)
	Stop(ctx context.Context, project, zone, instance string) (*compute.Operation, error)
}

type WaitCall interface {
	Context(ctx context.Context) WaitCall
	Do() (*compute.Operation, error)
}

// ZoneWaiter exposes the zone operations long-poll primitive. A single Do may
// return before the operation is DONE; callers are expected to loop.
type ZoneWaiter interface {
	Wait(project, zone, operationName string) WaitCall
}

type gcpInstances struct {
	client *compute.Service
}

func NewInstances(client *compute.Service) Instances {
	return &gcpInstances{client: client}
}

func (s *gcpInstances) Get(ctx context.Context, project, zone, instance string) (*compute.Instance, error) {
	return s.client.Instances.Get(project, zone, instance).Context(ctx).Do() //nolint:wrapcheck
}

func (s *gcpInstances) Start(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	return s.client.Instances.Start(project, zone, instance).Context(ctx).Do() //nolint:wrapcheck
}

func (s *gcpInstances) Stop(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	return s.client.Instances.Stop(project, zone, instance).Context(ctx).Do() //nolint:wrapcheck
}

type zoneWaiter struct {
	client *compute.Service
}

type zoneWaitCall struct {
	call *compute.ZoneOperationsWaitCall
}

func NewZoneWaiter(client *compute.Service) ZoneWaiter {
	return &zoneWaiter{client: client}
}

func (w *zoneWaiter) Wait(project, zone, operationName string) WaitCall {
	return &zoneWaitCall{w.client.ZoneOperations.Wait(project, zone, operationName)}
}

func (c *zoneWaitCall) Context(ctx context.Context) WaitCall {
	return &zoneWaitCall{c.call.Context(ctx)}
}

func (c *zoneWaitCall) Do() (*compute.Operation, error) {
	return c.call.Do() //nolint:wrapcheck
}
