package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultCallTimeout    = 30 * time.Second
)

// Observer receives connection lifecycle events, typically for metrics.
type Observer interface {
	ConnectionOpened(err error)
	ConnectionReleased(err error)
	CallTimedOut(op string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened(error)   {}
func (nopObserver) ConnectionReleased(error) {}
func (nopObserver) CallTimedOut(string)      {}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// URI is the libvirt connection URI. Empty lets libvirtd pick its default.
	URI string
	// ConnectTimeout bounds dialing and the open handshake (default 5s).
	ConnectTimeout time.Duration
	// CallTimeout bounds every individual backend call (default 30s).
	// A negative value disables the bound.
	CallTimeout time.Duration
	// MaxConnections caps concurrently open connections. 0 means unlimited.
	MaxConnections int
	// RetryConnect retries a failed open exactly once.
	RetryConnect bool

	Logger   hclog.Logger
	Observer Observer
	// Dial replaces DialLibvirt, mainly for tests.
	Dial DialFunc
}

// Client opens a fresh backend connection for every operation.
// It holds no connection itself and is safe for concurrent use.
type Client struct {
	endpoint    Endpoint
	endpointErr error

	connectTimeout time.Duration
	callTimeout    time.Duration
	retry          bool
	slots          *semaphore.Weighted

	dial DialFunc
	log  hclog.Logger
	obs  Observer
}

// New returns a Client for opts. An unparsable URI is not rejected here; it
// surfaces as a KindConnect error from every operation, like any other
// endpoint the backend refuses.
func New(opts Options) *Client {
	c := &Client{
		connectTimeout: opts.ConnectTimeout,
		callTimeout:    opts.CallTimeout,
		retry:          opts.RetryConnect,
		dial:           opts.Dial,
		log:            opts.Logger,
		obs:            opts.Observer,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.callTimeout == 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.dial == nil {
		c.dial = DialLibvirt
	}
	if c.log == nil {
		c.log = hclog.NewNullLogger()
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	if opts.MaxConnections > 0 {
		c.slots = semaphore.NewWeighted(int64(opts.MaxConnections))
	}

	c.endpoint, c.endpointErr = ParseEndpoint(opts.URI)
	if c.endpointErr != nil {
		c.endpoint = Endpoint{Raw: opts.URI}
		c.log.Warn("libvirt uri will be rejected on every request", "uri", opts.URI, "error", c.endpointErr)
	}
	return c
}

// Endpoint returns the parsed endpoint the client dials.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Session is a connection borrowed for the duration of one Client.Do call.
type Session struct {
	conn      Conn
	timeout   time.Duration
	obs       Observer
	abandoned atomic.Bool
}

// Do opens a connection, runs fn with it, and releases it. Release happens on
// every exit path, including a panic in fn. A failed release is logged and
// counted but never replaces fn's result.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context, s *Session) error) error {
	if c.slots != nil {
		if err := c.slots.Acquire(ctx, 1); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf("wait for backend connection slot: %w", err)}
			}
			return fmt.Errorf("%s: wait for backend connection slot: %w", op, err)
		}
		defer c.slots.Release(1)
	}

	conn, err := c.open(ctx, op)
	if err != nil {
		return err
	}

	s := &Session{conn: conn, timeout: c.callTimeout, obs: c.obs}
	defer c.release(op, s)

	return fn(ctx, s)
}

func (c *Client) open(ctx context.Context, op string) (Conn, error) {
	if c.endpointErr != nil {
		c.obs.ConnectionOpened(c.endpointErr)
		return nil, &Error{Kind: KindConnect, Op: op, Err: c.endpointErr}
	}

	attempts := 1
	if c.retry {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		conn, err := c.dial(dialCtx, c.endpoint, c.connectTimeout)
		cancel()
		c.obs.ConnectionOpened(err)
		if err == nil {
			c.log.Trace("connected", "op", op, "uri", c.endpoint.String())
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.log.Debug("connect attempt failed", "op", op, "attempt", i+1, "error", err)
	}

	return nil, &Error{Kind: KindConnect, Op: op, Err: lastErr}
}

func (c *Client) release(op string, s *Session) {
	err := s.conn.Disconnect()
	c.obs.ConnectionReleased(err)
	if err != nil {
		derr := &Error{Kind: KindDisconnect, Op: op, Err: err}
		if s.abandoned.Load() {
			c.log.Debug("release after abandoned call failed", "op", op, "error", derr)
			return
		}
		c.log.Warn("failed to release libvirt connection", "op", op, "error", derr)
	}
}

// Call runs one backend call bounded by the session's call timeout. If the
// deadline passes first, Call returns a KindTimeout error and leaves the
// call to be unblocked when the connection is released. A cancelled ctx is
// passed through and is not a timeout. A panic in fn is re-raised on the
// caller's goroutine so the surrounding Do still releases the connection.
func Call[T any](ctx context.Context, s *Session, op string, fn func(b Backend) (T, error)) (T, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	type result struct {
		v        T
		err      error
		panicked *callPanic
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- result{panicked: &callPanic{op: op, value: p, stack: debug.Stack()}}
			}
		}()
		v, err := fn(s.conn)
		resultCh <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		s.abandoned.Store(true)
		var zero T
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		s.obs.CallTimedOut(op)
		return zero, timeoutError(op, ctx.Err())
	case res := <-resultCh:
		if res.panicked != nil {
			panic(res.panicked)
		}
		return res.v, res.err
	}
}

// callPanic carries a panic raised inside a backend call, with the stack of
// the goroutine that ran it.
type callPanic struct {
	op    string
	value any
	stack []byte
}

func (p *callPanic) String() string {
	return fmt.Sprintf("backend call %q panicked: %v\n%s", p.op, p.value, p.stack)
}

// Exec is Call for backend calls that return only an error.
func Exec(ctx context.Context, s *Session, op string, fn func(b Backend) error) error {
	_, err := Call(ctx, s, op, func(b Backend) (struct{}, error) {
		return struct{}{}, fn(b)
	})
	return err
}

// IsTimeout reports whether err is a KindTimeout error or a bare context
// deadline. Cancellation is not a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout || errors.Is(err, context.DeadlineExceeded)
}
