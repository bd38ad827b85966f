package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

var ErrClosed = errors.New("connection closed")

type DialOptions struct {
	MaxMessageBytes    int64
	DialTimeout        time.Duration
	InsecureSkipVerify bool
	Logf               func(format string, args ...any)
}

// Conn is one pipeline event stream. Reads happen on a single goroutine
// started by ReadLoop; writes are serialized.
type Conn struct {
	url     string
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	logf func(format string, args ...any)
}

func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("websocket url is required")
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxMsg := opts.MaxMessageBytes
	if maxMsg <= 0 {
		maxMsg = 4 << 20
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialOpts websocket.DialOptions
	if strings.HasPrefix(strings.ToLower(url), "wss://") {
		dialOpts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec
			},
		}
	}
	conn, _, err := websocket.Dial(dialCtx, url, &dialOpts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMsg)
	logf("ws: connected url=%s", url)

	return &Conn{
		url:    url,
		conn:   conn,
		closed: make(chan struct{}),
		logf:   logf,
	}, nil
}

func (c *Conn) URL() string {
	return c.url
}

// ReadLoop delivers every text frame to deliver until the connection ends.
// Binary frames are skipped. A close initiated by Close returns ErrClosed;
// any other termination returns the underlying read error.
func (c *Conn) ReadLoop(ctx context.Context, deliver func(data []byte)) error {
	if c == nil || c.conn == nil {
		return ErrClosed
	}
	for {
		mt, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.isClosed() {
				return ErrClosed
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.logf("ws: server closed the stream url=%s", c.url)
			}
			return err
		}
		if mt != websocket.MessageText {
			continue
		}
		deliver(data)
	}
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c == nil || c.conn == nil || c.isClosed() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close is idempotent.
func (c *Conn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
		c.logf("ws: closed url=%s", c.url)
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
