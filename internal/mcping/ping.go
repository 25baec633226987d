// Package mcping implements the Minecraft Java Edition server list ping: a
// single TCP exchange of a handshake and a status request, answered with a
// JSON status payload.
package mcping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultPort = 25565

	handshakePacketID = 0x00
	statusPacketID    = 0x00
	statusState       = 1
	// protocol version -1 marks a status-only handshake
	statusProtocolVersion = -1
	maxPayloadBytes       = 1 << 21
)

// Player is one entry of the status response player sample.
type Player struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Players is the players object of the status response. Online is kept raw
// because servers and proxies disagree on whether it is a number or a quoted
// string; Sample stays nil when the field is absent, as opposed to empty when
// it is present but has no entries.
type Players struct {
	Max    json.RawMessage `json:"max"`
	Online json.RawMessage `json:"online"`
	Sample []Player        `json:"sample"`
}

// Status is a decoded server list ping response. Raw retains the full JSON
// payload exactly as returned by the server.
type Status struct {
	Raw     json.RawMessage
	Players *Players
}

type Pinger interface {
	Ping(ctx context.Context, host string, port int) (*Status, error)
}

type pinger struct {
	timeout time.Duration
	dialer  net.Dialer
}

// New returns a Pinger that bounds every probe by timeout. A zero timeout
// leaves the probe bounded only by the caller's context.
func New(timeout time.Duration) Pinger {
	return &pinger{timeout: timeout}
}

func (p *pinger) Ping(ctx context.Context, host string, port int) (*Status, error) {
	if port == 0 {
		port = DefaultPort
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err = writeHandshake(conn, host, port); err != nil {
		return nil, errors.Wrapf(err, "failed to send handshake to %s", addr)
	}
	if err = writePacket(conn, statusPacketID, nil); err != nil {
		return nil, errors.Wrapf(err, "failed to send status request to %s", addr)
	}
	payload, err := readStatusPayload(bufio.NewReader(conn))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read status response from %s", addr)
	}

	var fields struct {
		Players *Players `json:"players"`
	}
	if err = json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrapf(err, "failed to decode status response from %s", addr)
	}
	return &Status{Raw: payload, Players: fields.Players}, nil
}

func writeHandshake(w io.Writer, host string, port int) error {
	var payload bytes.Buffer
	writeVarInt(&payload, statusProtocolVersion)
	writeVarInt(&payload, int32(len(host)))
	payload.WriteString(host)
	_ = binary.Write(&payload, binary.BigEndian, uint16(port))
	writeVarInt(&payload, statusState)
	return writePacket(w, handshakePacketID, payload.Bytes())
}

func writePacket(w io.Writer, id int32, payload []byte) error {
	var body bytes.Buffer
	writeVarInt(&body, id)
	body.Write(payload)
	var packet bytes.Buffer
	writeVarInt(&packet, int32(body.Len()))
	packet.Write(body.Bytes())
	_, err := w.Write(packet.Bytes())
	return err //nolint:wrapcheck
}

func readStatusPayload(r *bufio.Reader) (json.RawMessage, error) {
	// packet length, unused beyond framing
	if _, err := readVarInt(r); err != nil {
		return nil, err
	}
	id, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if id != statusPacketID {
		return nil, errors.Errorf("unexpected packet id %d", id)
	}
	size, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > maxPayloadBytes {
		return nil, errors.Errorf("status payload size %d out of range", size)
	}
	payload := make([]byte, size)
	if _, err = io.ReadFull(r, payload); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return payload, nil
}

func writeVarInt(buf *bytes.Buffer, n int32) {
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err //nolint:wrapcheck
		}
		result |= uint32(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, errors.New("varint too long")
}
