package mcstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/craftops/craftops/internal/mcping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoPlayers      = errors.New("status response has no players object")
	ErrNoOnlineCount  = errors.New("status response has no online player count")
	ErrNoPlayerSample = errors.New("status response has no player sample")
)

// AddressResolver yields the external address of the instance backing the
// game server.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, zone, instance string) (string, error)
}

// Aggregator answers game-server status queries for an instance. Every
// operation resolves the instance address and probes the server end to end;
// nothing is cached between calls.
type Aggregator interface {
	Status(ctx context.Context, zone, instance string) (string, error)
	PlayerCount(ctx context.Context, zone, instance string) (string, error)
	PlayerList(ctx context.Context, zone, instance string) (string, error)
}

type aggregator struct {
	resolver AddressResolver
	pinger   mcping.Pinger
	port     int
	logger   *logrus.Entry
}

func New(resolver AddressResolver, pinger mcping.Pinger, port int, logger *logrus.Entry) Aggregator {
	if port == 0 {
		port = mcping.DefaultPort
	}
	return &aggregator{
		resolver: resolver,
		pinger:   pinger,
		port:     port,
		logger:   logger,
	}
}

func (a *aggregator) probe(ctx context.Context, zone, instance string) (*mcping.Status, error) {
	host, err := a.resolver.ResolveAddress(ctx, zone, instance)
	if err != nil {
		return nil, err
	}
	a.logger.WithFields(logrus.Fields{
		"instance": instance,
		"host":     host,
	}).Debug("probing game server")
	status, err := a.pinger.Ping(ctx, host, a.port)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to probe game server at %s", host)
	}
	return status, nil
}

func (a *aggregator) Status(ctx context.Context, zone, instance string) (string, error) {
	status, err := a.probe(ctx, zone, instance)
	if err != nil {
		return "", err
	}
	var pretty bytes.Buffer
	if err = json.Indent(&pretty, status.Raw, "", "  "); err != nil {
		return "", errors.Wrap(err, "failed to format status response")
	}
	return pretty.String() + "\n", nil
}

func (a *aggregator) PlayerCount(ctx context.Context, zone, instance string) (string, error) {
	status, err := a.probe(ctx, zone, instance)
	if err != nil {
		return "", err
	}
	count, err := onlineCount(status)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(count, 10) + "\n", nil
}

func (a *aggregator) PlayerList(ctx context.Context, zone, instance string) (string, error) {
	status, err := a.probe(ctx, zone, instance)
	if err != nil {
		return "", err
	}
	if status.Players == nil {
		return "", ErrNoPlayers
	}
	// an absent sample is an error; a present but empty one renders nothing
	if status.Players.Sample == nil {
		return "", ErrNoPlayerSample
	}
	var out strings.Builder
	for _, player := range status.Players.Sample {
		fmt.Fprintf(&out, "%s %s\n", player.Name, player.ID)
	}
	return out.String(), nil
}

// onlineCount parses the online player count, tolerating servers that report
// it as a quoted string instead of a number.
func onlineCount(status *mcping.Status) (int64, error) {
	if status.Players == nil {
		return 0, ErrNoPlayers
	}
	raw := bytes.TrimSpace(status.Players.Online)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrNoOnlineCount
	}
	text := strings.Trim(string(raw), `"`)
	count, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse online player count %q", text)
	}
	return count, nil
}
