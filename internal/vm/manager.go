package vm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var ErrNoExternalAddress = errors.New("instance has no external address")

// Manager drives the power lifecycle of a single Compute Engine instance and
// resolves its externally visible state. Start, Stop and Restart block until
// the underlying compute operations reach a terminal state.
type Manager interface {
	Start(ctx context.Context, zone, instance string) (string, error)
	Stop(ctx context.Context, zone, instance string) (string, error)
	Restart(ctx context.Context, zone, instance string) (string, error)
	Status(ctx context.Context, zone, instance string) (string, error)
	ResolveAddress(ctx context.Context, zone, instance string) (string, error)
}

// State is the resolved view of an instance. Both fields are optional: a
// stopped instance has a status but no address, a freshly created one may
// have neither populated yet.
type State struct {
	Address string
	Status  string
}

// Render returns the non-empty fields, address first, one per line with a
// trailing newline. Empty fields are omitted rather than rendered blank.
func (s *State) Render() string {
	lines := make([]string, 0, 2)
	if s.Address != "" {
		lines = append(lines, s.Address)
	}
	if s.Status != "" {
		lines = append(lines, s.Status)
	}
	return strings.Join(lines, "\n") + "\n"
}
