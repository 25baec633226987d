package vm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/craftops/craftops/internal/cloud"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/compute/v1"
)

const (
	operationDone           = "DONE" // operation status DONE
	defaultOperationTimeout = 10 * time.Minute
)

type gcpManager struct {
	instances cloud.Instances
	waiter    cloud.ZoneWaiter
	project   string
	opTimeout time.Duration
	logger    *logrus.Entry
}

type operationError struct {
	name string
	err  *compute.OperationError
}

func newOperationError(name string, err *compute.OperationError) *operationError {
	return &operationError{name: name, err: err}
}

func joinErrorMessages(operationError *compute.OperationError) string {
	if operationError == nil || len(operationError.Errors) == 0 {
		return ""
	}
	messages := make([]string, 0, len(operationError.Errors))
	for _, errorItem := range operationError.Errors {
		messages = append(messages, errorItem.Message)
	}
	return strings.Join(messages, "; ")
}

func (e *operationError) Error() string {
	if e.err == nil {
		return ""
	}
	return fmt.Sprintf("operation %s failed with error %v", e.name, joinErrorMessages(e.err))
}

func NewGCPManager(ctx context.Context, logger *logrus.Entry, project string, opTimeout time.Duration) (Manager, error) {
	// initialize Google Cloud client
	client, err := compute.NewService(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Google Cloud client")
	}

	// get project ID from metadata server
	if project == "" {
		project, err = metadata.ProjectID()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get project ID from metadata server")
		}
	}

	if opTimeout <= 0 {
		opTimeout = defaultOperationTimeout
	}

	return &gcpManager{
		instances: cloud.NewInstances(client),
		waiter:    cloud.NewZoneWaiter(client),
		project:   project,
		opTimeout: opTimeout,
		logger:    logger,
	}, nil
}

// waitForOperation polls the zone operation until it reaches DONE. Status
// messages and warnings observed mid-poll are diagnostics only and never
// abort the wait; an operation carrying an error is a failure.
func (m *gcpManager) waitForOperation(c context.Context, op *compute.Operation, zone string) error {
	if op == nil {
		m.logger.Warn("operation is nil")
		return nil
	}
	ctx, cancel := context.WithTimeout(c, m.opTimeout)
	defer cancel()

	var err error
	name := op.Name
	for op.Status != operationDone {
		op, err = m.waiter.Wait(m.project, zone, name).Context(ctx).Do()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return errors.Errorf("operation %s timed out", name)
			}
			return errors.Wrapf(err, "failed to wait for operation %s", name)
		}
		if op.Error != nil {
			return newOperationError(op.Name, op.Error)
		}
		if op.StatusMessage != "" {
			m.logger.WithField("operation", name).Error(op.StatusMessage)
		}
		if len(op.Warnings) > 0 {
			messages := make([]string, 0, len(op.Warnings))
			for _, warning := range op.Warnings {
				messages = append(messages, warning.Message)
			}
			m.logger.WithField("operation", name).Warn(strings.Join(messages, "; "))
		}
	}
	return nil
}

func (m *gcpManager) resolveState(ctx context.Context, zone, instance string) (*State, error) {
	inst, err := m.instances.Get(ctx, m.project, zone, instance)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get instance %s", instance)
	}
	state := &State{Status: inst.Status}
	// first access config of the first network interface, when present
	if len(inst.NetworkInterfaces) > 0 && len(inst.NetworkInterfaces[0].AccessConfigs) > 0 {
		state.Address = inst.NetworkInterfaces[0].AccessConfigs[0].NatIP
	}
	return state, nil
}

func (m *gcpManager) startAndWait(ctx context.Context, zone, instance string) error {
	m.logger.WithFields(logrus.Fields{
		"instance": instance,
		"zone":     zone,
	}).Info("starting instance")
	op, err := m.instances.Start(ctx, m.project, zone, instance)
	if err != nil {
		return errors.Wrapf(err, "failed to start instance %s", instance)
	}
	return m.waitForOperation(ctx, op, zone)
}

func (m *gcpManager) stopAndWait(ctx context.Context, zone, instance string) error {
	m.logger.WithFields(logrus.Fields{
		"instance": instance,
		"zone":     zone,
	}).Info("stopping instance")
	op, err := m.instances.Stop(ctx, m.project, zone, instance)
	if err != nil {
		return errors.Wrapf(err, "failed to stop instance %s", instance)
	}
	return m.waitForOperation(ctx, op, zone)
}

func (m *gcpManager) Start(ctx context.Context, zone, instance string) (string, error) {
	if err := m.startAndWait(ctx, zone, instance); err != nil {
		return "", err
	}
	return m.Status(ctx, zone, instance)
}

func (m *gcpManager) Stop(ctx context.Context, zone, instance string) (string, error) {
	if err := m.stopAndWait(ctx, zone, instance); err != nil {
		return "", err
	}
	return m.Status(ctx, zone, instance)
}

// Restart stops the instance and waits for the stop operation to reach a
// terminal state before issuing the start. The two mutations are never
// overlapped: a concurrent stop and start on the same instance is unsafe.
func (m *gcpManager) Restart(ctx context.Context, zone, instance string) (string, error) {
	if err := m.stopAndWait(ctx, zone, instance); err != nil {
		return "", err
	}
	return m.Start(ctx, zone, instance)
}

func (m *gcpManager) Status(ctx context.Context, zone, instance string) (string, error) {
	state, err := m.resolveState(ctx, zone, instance)
	if err != nil {
		return "", err
	}
	return state.Render(), nil
}

func (m *gcpManager) ResolveAddress(ctx context.Context, zone, instance string) (string, error) {
	state, err := m.resolveState(ctx, zone, instance)
	if err != nil {
		return "", err
	}
	if state.Address == "" {
		return "", errors.Wrapf(ErrNoExternalAddress, "instance %s in zone %s", instance, zone)
	}
	return state.Address, nil
}
