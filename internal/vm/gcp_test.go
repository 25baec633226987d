package vm

import (
	"context"
	"testing"
	"time"

	"github.com/craftops/craftops/internal/cloud"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/compute/v1"
)

type fakeInstances struct {
	getFn   func(zone, instance string) (*compute.Instance, error)
	startFn func(zone, instance string) (*compute.Operation, error)
	stopFn  func(zone, instance string) (*compute.Operation, error)
	events  *[]string
}

func (f *fakeInstances) record(event string) {
	if f.events != nil {
		*f.events = append(*f.events, event)
	}
}

func (f *fakeInstances) Get(_ context.Context, _, zone, instance string) (*compute.Instance, error) {
	f.record("get")
	return f.getFn(zone, instance)
}

func (f *fakeInstances) Start(_ context.Context, _, zone, instance string) (*compute.Operation, error) {
	f.record("start")
	return f.startFn(zone, instance)
}

func (f *fakeInstances) Stop(_ context.Context, _, zone, instance string) (*compute.Operation, error) {
	f.record("stop")
	return f.stopFn(zone, instance)
}

type waitResult struct {
	op  *compute.Operation
	err error
}

// fakeWaiter plays back a scripted sequence of long-poll results, repeating
// the last one once the script is exhausted.
type fakeWaiter struct {
	results []waitResult
	calls   int
	events  *[]string
}

type fakeWaitCall struct {
	w    *fakeWaiter
	name string
}

func (w *fakeWaiter) Wait(_, _, operationName string) cloud.WaitCall {
	return &fakeWaitCall{w: w, name: operationName}
}

func (c *fakeWaitCall) Context(_ context.Context) cloud.WaitCall { return c }

func (c *fakeWaitCall) Do() (*compute.Operation, error) {
	if c.w.events != nil {
		*c.w.events = append(*c.w.events, "wait "+c.name)
	}
	i := c.w.calls
	c.w.calls++
	if i >= len(c.w.results) {
		i = len(c.w.results) - 1
	}
	return c.w.results[i].op, c.w.results[i].err
}

func newTestManager(instances cloud.Instances, waiter cloud.ZoneWaiter) *gcpManager {
	return &gcpManager{
		instances: instances,
		waiter:    waiter,
		project:   "test-project",
		opTimeout: time.Second,
		logger:    logrus.NewEntry(logrus.New()),
	}
}

func runningInstance() *compute.Instance {
	return &compute.Instance{
		Status: "RUNNING",
		NetworkInterfaces: []*compute.NetworkInterface{
			{AccessConfigs: []*compute.AccessConfig{{NatIP: "1.2.3.4"}}},
		},
	}
}

func Test_gcpManager_waitForOperation(t *testing.T) {
	tests := []struct {
		name      string
		op        *compute.Operation
		results   []waitResult
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "operation already terminal",
			op:        &compute.Operation{Name: "test-operation", Status: "DONE"},
			wantCalls: 0,
		},
		{
			name: "terminal after diagnostics",
			op:   &compute.Operation{Name: "test-operation", Status: "RUNNING"},
			results: []waitResult{
				{op: &compute.Operation{Name: "test-operation", Status: "RUNNING", StatusMessage: "still working"}},
				{op: &compute.Operation{Name: "test-operation", Status: "RUNNING", Warnings: []*compute.OperationWarnings{
					{Message: "first warning"},
					{Message: "second warning"},
				}}},
				{op: &compute.Operation{Name: "test-operation", Status: "RUNNING"}},
				{op: &compute.Operation{Name: "test-operation", Status: "DONE"}},
			},
			wantCalls: 4,
		},
		{
			name:    "wait error propagates",
			op:      &compute.Operation{Name: "test-operation", Status: "RUNNING"},
			results: []waitResult{{err: errors.New("test-error")}},
			wantErr: true,
		},
		{
			name: "operation error fails the wait",
			op:   &compute.Operation{Name: "test-operation", Status: "RUNNING"},
			results: []waitResult{
				{op: &compute.Operation{Name: "test-operation", Status: "DONE", Error: &compute.OperationError{
					Errors: []*compute.OperationErrorErrors{{Code: "123", Message: "test-error"}},
				}}},
			},
			wantErr: true,
		},
		{
			name:      "nil operation is a no-op",
			op:        nil,
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waiter := &fakeWaiter{results: tt.results}
			m := newTestManager(nil, waiter)
			err := m.waitForOperation(context.Background(), tt.op, "test-zone")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, waiter.calls)
		})
	}
}

func Test_gcpManager_Status(t *testing.T) {
	instances := &fakeInstances{
		getFn: func(_, _ string) (*compute.Instance, error) { return runningInstance(), nil },
	}
	m := newTestManager(instances, nil)

	first, err := m.Status(context.Background(), "test-zone", "test-instance")
	require.NoError(t, err)
	second, err := m.Status(context.Background(), "test-zone", "test-instance")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.4\nRUNNING\n", first)
	assert.Equal(t, first, second)
}

func Test_gcpManager_Status_noAddress(t *testing.T) {
	instances := &fakeInstances{
		getFn: func(_, _ string) (*compute.Instance, error) {
			return &compute.Instance{Status: "TERMINATED"}, nil
		},
	}
	m := newTestManager(instances, nil)

	status, err := m.Status(context.Background(), "test-zone", "test-instance")
	require.NoError(t, err)
	assert.Equal(t, "TERMINATED\n", status)

	_, err = m.ResolveAddress(context.Background(), "test-zone", "test-instance")
	require.ErrorIs(t, err, ErrNoExternalAddress)
	assert.Contains(t, err.Error(), "test-zone")
	assert.Contains(t, err.Error(), "test-instance")
}

func Test_gcpManager_Restart_order(t *testing.T) {
	var events []string
	instances := &fakeInstances{
		events: &events,
		stopFn: func(_, _ string) (*compute.Operation, error) {
			return &compute.Operation{Name: "stop-op", Status: "RUNNING"}, nil
		},
		startFn: func(_, _ string) (*compute.Operation, error) {
			return &compute.Operation{Name: "start-op", Status: "RUNNING"}, nil
		},
		getFn: func(_, _ string) (*compute.Instance, error) { return runningInstance(), nil },
	}
	waiter := &fakeWaiter{
		events: &events,
		results: []waitResult{
			{op: &compute.Operation{Name: "stop-op", Status: "DONE"}},
			{op: &compute.Operation{Name: "start-op", Status: "DONE"}},
		},
	}
	m := newTestManager(instances, waiter)

	status, err := m.Restart(context.Background(), "test-zone", "test-instance")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4\nRUNNING\n", status)
	// the stop operation must be observed terminal before start is issued
	assert.Equal(t, []string{"stop", "wait stop-op", "start", "wait start-op", "get"}, events)
}

func Test_gcpManager_Start(t *testing.T) {
	instances := &fakeInstances{
		startFn: func(_, _ string) (*compute.Operation, error) {
			return &compute.Operation{Name: "start-op", Status: "RUNNING"}, nil
		},
		getFn: func(_, _ string) (*compute.Instance, error) { return runningInstance(), nil },
	}
	waiter := &fakeWaiter{
		results: []waitResult{
			{op: &compute.Operation{Name: "start-op", Status: "RUNNING"}},
			{op: &compute.Operation{Name: "start-op", Status: "RUNNING"}},
			{op: &compute.Operation{Name: "start-op", Status: "DONE"}},
		},
	}
	m := newTestManager(instances, waiter)

	status, err := m.Start(context.Background(), "test-zone", "test-instance")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4\nRUNNING\n", status)
	assert.Equal(t, 3, waiter.calls)
}

func Test_gcpManager_Start_mutationError(t *testing.T) {
	var events []string
	instances := &fakeInstances{
		events: &events,
		startFn: func(_, _ string) (*compute.Operation, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	m := newTestManager(instances, &fakeWaiter{})

	_, err := m.Start(context.Background(), "test-zone", "test-instance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	// no state is resolved after a failed mutation
	assert.Equal(t, []string{"start"}, events)
}
