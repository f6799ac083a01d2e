package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/dispipe/types"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Close codes after which reconnecting cannot help.
var fatalCloseCodes = map[int]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4012: "invalid API version",
	4013: "invalid intents",
	4014: "disallowed intents",
}

// GatewayError reports a gateway session that ended for good.
type GatewayError struct {
	CloseCode int
	Reason    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("discord gateway: closed with %d (%s)", e.CloseCode, e.Reason)
}

var (
	errReconnect      = errors.New("server requested reconnect")
	errInvalidSession = errors.New("invalid session")
	errZombie         = errors.New("heartbeat not acknowledged")
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identify struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type ready struct {
	User currentUser `json:"user"`
}

// HasSession reports whether Run keeps a gateway session.
func (c *Client) HasSession() bool { return c.config.Gateway }

// Run keeps a gateway session open until ctx ends, reconnecting with
// exponential backoff. It returns nil when ctx ends and a *GatewayError when
// Discord closes the session with a code that reconnecting cannot fix.
// Without Gateway in the config it just waits for ctx.
func (c *Client) Run(ctx context.Context) error {
	if !c.config.Gateway {
		<-ctx.Done()
		return nil
	}

	backoff := c.reconnectMin
	for {
		wasReady, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return gwErr
		}
		if wasReady {
			backoff = c.reconnectMin
		}

		c.logger.Warn("gateway disconnected, reconnecting", map[string]any{
			"error":   err.Error(),
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.reconnectMax)
	}
}

// gatewayConn serializes writes; gorilla allows one concurrent writer.
type gatewayConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (g *gatewayConn) send(op int, d any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ws.WriteJSON(outbound{Op: op, D: d})
}

// connect runs one websocket connection. It reports whether READY was seen.
func (c *Client) connect(ctx context.Context) (bool, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.config.GatewayURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn := &gatewayConn{ws: ws}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = ws.Close()
		wg.Wait()
	}()

	// Closing the socket unblocks ReadMessage when ctx ends.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = ws.Close()
	}()

	var h hello
	first, err := readPayload(ws)
	if err != nil {
		return false, err
	}
	if first.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", first.Op)
	}
	if err := json.Unmarshal(first.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload: %s", first.D)
	}

	if err := conn.send(opIdentify, identify{
		Token:   c.config.Token,
		Intents: 0,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: types.ServiceName,
			Device:  types.ServiceName,
		},
	}); err != nil {
		return false, fmt.Errorf("identify: %w", err)
	}

	var (
		seqMu sync.Mutex
		seq   *int64
	)
	lastSeq := func() any {
		seqMu.Lock()
		defer seqMu.Unlock()
		if seq == nil {
			return nil
		}
		return *seq
	}

	acked := make(chan struct{}, 1)
	beatErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		beatErr <- c.heartbeat(connCtx, conn, time.Duration(h.HeartbeatInterval)*time.Millisecond, lastSeq, acked)
		// Unblock the read loop.
		_ = ws.Close()
	}()

	wasReady := false
	for {
		p, err := readPayload(ws)
		if err != nil {
			select {
			case hbErr := <-beatErr:
				if hbErr != nil {
					return wasReady, hbErr
				}
			default:
			}
			return wasReady, err
		}

		if p.S != nil {
			seqMu.Lock()
			v := *p.S
			seq = &v
			seqMu.Unlock()
		}

		switch p.Op {
		case opDispatch:
			if p.T == "READY" {
				var r ready
				_ = json.Unmarshal(p.D, &r)
				c.mu.Lock()
				if r.User.Username != "" {
					c.user = r.User.Username
				}
				c.mu.Unlock()
				wasReady = true
				c.logger.Info("gateway ready", map[string]any{"user": r.User.Username})
			}
		case opHeartbeat:
			if err := conn.send(opHeartbeat, lastSeq()); err != nil {
				return wasReady, fmt.Errorf("heartbeat: %w", err)
			}
		case opHeartbeatACK:
			select {
			case acked <- struct{}{}:
			default:
			}
		case opReconnect:
			return wasReady, errReconnect
		case opInvalidSession:
			return wasReady, errInvalidSession
		}
	}
}

// heartbeat sends op 1 every interval, after a random first delay. A missing
// ACK between two beats means the connection is dead.
func (c *Client) heartbeat(ctx context.Context, conn *gatewayConn, interval time.Duration, lastSeq func() any, acked <-chan struct{}) error {
	timer := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer timer.Stop()

	awaitingACK := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-acked:
			awaitingACK = false
			continue
		case <-timer.C:
		}

		if awaitingACK {
			return errZombie
		}
		if err := conn.send(opHeartbeat, lastSeq()); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		awaitingACK = true
		timer.Reset(interval)
	}
}

func readPayload(ws *websocket.Conn) (payload, error) {
	var p payload
	_, data, err := ws.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			if reason, fatal := fatalCloseCodes[closeErr.Code]; fatal {
				return p, &GatewayError{CloseCode: closeErr.Code, Reason: reason}
			}
		}
		return p, fmt.Errorf("read: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
