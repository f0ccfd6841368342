package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/crimson-sun/stepwise/internal/model"
)

// HandlerFunc answers a message pushed by the background. The returned
// payload is sent back when the message carried an ID. It runs on the read
// goroutine and must not call Request on the same client.
type HandlerFunc func(ctx context.Context, msg model.Message) (any, error)

// Client is the capture or UI side of a port.
type Client struct {
	port *Port
	done chan struct{}
	err  error
}

// CaptureURL builds the capture endpoint URL for a tab under base (ws:// or http://).
func CaptureURL(base string, tabID int, frameURL, token string) (string, error) {
	u, err := wsURL(base, "/ws/capture")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("tabId", strconv.Itoa(tabID))
	if frameURL != "" {
		q.Set("frameUrl", frameURL)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UIURL builds the UI endpoint URL under base.
func UIURL(base, token string) (string, error) {
	u, err := wsURL(base, "/ws/ui")
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func wsURL(base, path string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bridge: parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path
	return u, nil
}

// Dial connects to rawURL and starts dispatching pushed messages to handle.
func Dial(ctx context.Context, rawURL string, header http.Header, handle HandlerFunc) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: dial %s: HTTP %d: %w", rawURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge: dial %s: %w", rawURL, err)
	}
	c := &Client{
		port: newPort(conn, RoleCapture, 0, ""),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.err = c.port.serve(func(msg model.Message) {
			if handle == nil {
				return
			}
			payload, err := handle(context.Background(), msg)
			if err != nil && msg.ID == "" {
				slog.Debug("pushed message failed", "type", msg.Type, "error", err)
			}
			c.port.reply(context.Background(), msg, payload, err)
		})
	}()
	return c, nil
}

// Send writes msg to the background.
func (c *Client) Send(ctx context.Context, msg model.Message) error {
	return c.port.Send(ctx, msg)
}

// Request sends msg and waits for the background's reply.
func (c *Client) Request(ctx context.Context, msg model.Message) (model.Message, error) {
	return c.port.Request(ctx, msg)
}

// Done is closed once the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read loop's terminal error, if any, after Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close closes the connection and waits for the read loop.
func (c *Client) Close() error {
	err := c.port.Close()
	<-c.done
	return err
}
