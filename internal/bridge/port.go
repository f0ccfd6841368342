package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crimson-sun/stepwise/internal/model"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 20 // screenshots travel as data URLs
)

var (
	// ErrPortClosed is returned when writing to or awaiting a closed port.
	ErrPortClosed = errors.New("bridge: port closed")
	// ErrNoPort is returned when no capture port is connected for a tab.
	ErrNoPort = errors.New("bridge: no port for tab")
)

// Role distinguishes capture contexts from UI observers.
type Role string

const (
	RoleCapture Role = "capture"
	RoleUI      Role = "ui"
)

// Port is one websocket connection exchanging model.Message values.
// Writes are serialized; replies to Request are matched by message ID.
type Port struct {
	ID       string
	Role     Role
	TabID    int
	FrameURL string

	conn *websocket.Conn
	wmu  sync.Mutex

	mu      sync.Mutex
	pending map[string]chan model.Message

	pinging   bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newPort(conn *websocket.Conn, role Role, tabID int, frameURL string) *Port {
	return &Port{
		ID:       uuid.NewString(),
		Role:     role,
		TabID:    tabID,
		FrameURL: frameURL,
		conn:     conn,
		pending:  make(map[string]chan model.Message),
		closed:   make(chan struct{}),
	}
}

// Send writes msg to the peer.
func (p *Port) Send(ctx context.Context, msg model.Message) error {
	select {
	case <-p.closed:
		return ErrPortClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", msg.Type, err)
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPortClosed, err)
	}
	return nil
}

// Request sends msg with a fresh ID and waits for the matching reply.
// An error reply is returned as an error.
func (p *Port) Request(ctx context.Context, msg model.Message) (model.Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan model.Message, 1)

	p.mu.Lock()
	p.pending[msg.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, msg.ID)
		p.mu.Unlock()
	}()

	if err := p.Send(ctx, msg); err != nil {
		return model.Message{}, err
	}

	select {
	case reply := <-ch:
		if reply.Type == model.MsgError {
			return reply, fmt.Errorf("bridge: %s: %s", msg.Type, reply.Error)
		}
		return reply, nil
	case <-p.closed:
		return model.Message{}, ErrPortClosed
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

// Done is closed once the port is closed.
func (p *Port) Done() <-chan struct{} { return p.closed }

// Close closes the underlying connection. Safe to call more than once.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// deliver routes a reply to its waiting Request. Reports whether msg was a
// reply that someone was waiting for.
func (p *Port) deliver(msg model.Message) bool {
	if msg.ID == "" || (msg.Type != model.MsgResponse && msg.Type != model.MsgError) {
		return false
	}
	p.mu.Lock()
	ch, ok := p.pending[msg.ID]
	p.mu.Unlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
	return ok
}

// serve reads until the connection fails, passing every message that is not
// a reply to handle in receipt order.
func (p *Port) serve(handle func(model.Message)) error {
	defer p.Close()
	p.conn.SetReadLimit(maxMessageSize)
	if p.pinging {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("dropping undecodable port message", "port", p.ID, "tab_id", p.TabID, "error", err)
			continue
		}
		if p.deliver(msg) {
			continue
		}
		handle(msg)
	}
}

// keepalive pings the peer until the port closes. Only valid on ports
// created with pinging set, whose serve loop extends the read deadline on pongs.
func (p *Port) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.Close()
				return
			}
		}
	}
}

// reply sends the answer to a message that carried an ID.
func (p *Port) reply(ctx context.Context, req model.Message, payload any, err error) {
	if req.ID == "" {
		return
	}
	var out model.Message
	if err != nil {
		out = req.ReplyError(err)
	} else {
		out, err = req.Reply(payload)
		if err != nil {
			out = req.ReplyError(err)
		}
	}
	if err := p.Send(ctx, out); err != nil {
		slog.Debug("reply not delivered", "port", p.ID, "type", req.Type, "error", err)
	}
}
