package odalpapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/utils"
)

// maxDatagram bounds one response read. Server responses are far
// smaller in practice; master lists can approach this.
const maxDatagram = 16 * 1024

// exchangeState tracks the single resolution path of one outstanding
// query. Every exchange moves from pending to exactly one terminal
// state before the socket is cleaned up.
type exchangeState int

const (
	statePending exchangeState = iota
	stateResolved
	stateTimedOut
	stateFailed
)

func (s exchangeState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateResolved:
		return "resolved"
	case stateTimedOut:
		return "timed-out"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

type exchange struct {
	state exchangeState
}

// resolve performs the one allowed transition out of pending. A second
// transition is a bug; it is dropped rather than letting two callback
// paths fight over the result.
func (e *exchange) resolve(next exchangeState) bool {
	if e.state != statePending {
		return false
	}
	e.state = next
	return true
}

// Client performs one-shot UDP exchanges against game and master
// servers. Each query opens its own ephemeral socket.
type Client struct {
	log logger.Logger
}

func NewClient(log logger.Logger) *Client {
	return &Client{log: log}
}

// Query sends the server challenge to addr and decodes the response.
// The returned Result always has Address set; Responded is false and
// the error is non-nil on any timeout, transport or decode failure.
// ErrServerTooOld is distinguishable with errors.Is.
func (c *Client) Query(ctx context.Context, addr string, timeout time.Duration) (*Result, error) {
	res := &Result{Address: addr}

	buf, err := c.exchange(ctx, addr, timeout, EncodeChallenge())
	if err != nil {
		return res, err
	}

	decoded, err := DecodeResponse(buf)
	if err != nil {
		c.log.Debug("odalpapi decode failed",
			logger.String("addr", addr),
			logger.Error(err))
		return res, err
	}
	decoded.Address = addr
	return decoded, nil
}

// QueryMaster fetches the server list from a master server.
func (c *Client) QueryMaster(ctx context.Context, addr string, timeout time.Duration) ([]MasterEntry, error) {
	buf, err := c.exchange(ctx, addr, timeout, EncodeMasterChallenge())
	if err != nil {
		return nil, err
	}
	return DecodeMasterResponse(buf)
}

// exchange runs one challenge/response round trip with a bounded
// deadline and deterministic socket cleanup on every path.
func (c *Client) exchange(ctx context.Context, addr string, timeout time.Duration, challenge []byte) ([]byte, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("odalpapi: dial %s: %w", addr, err)
	}
	defer utils.Close(conn)

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("odalpapi: set deadline: %w", err)
	}

	ex := &exchange{}

	if _, err := conn.Write(challenge); err != nil {
		ex.resolve(stateFailed)
		return nil, fmt.Errorf("odalpapi: send challenge to %s: %w", addr, err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			ex.resolve(stateTimedOut)
			return nil, fmt.Errorf("odalpapi: %s did not respond within %s", addr, timeout)
		}
		ex.resolve(stateFailed)
		return nil, fmt.Errorf("odalpapi: read from %s: %w", addr, err)
	}

	if !ex.resolve(stateResolved) {
		// Already terminal; never hand out a second result.
		return nil, fmt.Errorf("odalpapi: exchange already %s", ex.state)
	}
	return buf[:n], nil
}
