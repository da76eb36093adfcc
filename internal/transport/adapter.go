package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

// State is the adapter's connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

const (
	DefaultDialTimeout    = 5 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxAttempts    = 5

	// closeGrace bounds the wait for the peer's close reply on teardown.
	closeGrace = time.Second
)

// Config wires one adapter. OnMessage receives validated remote messages;
// OnStateChange observes every transition.
type Config struct {
	URL            string
	SelfID         string
	DialTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	OnMessage      func(domain.ChatMessage)
	OnStateChange  func(State)
	Logger         logger.Logger
}

func (c *Config) fill() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger("info", "")
	}
}

// Adapter is the best-effort relay link. It never carries correctness: when
// the remote endpoint is unreachable the rest of the synchronizer keeps
// working through the shared store alone.
type Adapter struct {
	cfg    Config
	cancel context.CancelFunc
	send   chan domain.ChatMessage
	done   chan struct{}

	mu    sync.Mutex
	state State
}

func NewAdapter(cfg Config) *Adapter {
	cfg.fill()
	return &Adapter{
		cfg:   cfg,
		send:  make(chan domain.ChatMessage, 64),
		done:  make(chan struct{}),
		state: StateDisconnected,
	}
}

// Start launches the connect loop. It returns immediately; connection
// progress is reported through OnStateChange.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.run(ctx)
}

// Close tears the adapter down and waits for the connect loop to exit.
func (a *Adapter) Close() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Send queues a message for the remote endpoint. Delivery is best effort:
// when not connected or the queue is full the message is dropped and false
// is returned.
func (a *Adapter) Send(msg domain.ChatMessage) bool {
	if a.State() != StateConnected {
		return false
	}
	select {
	case a.send <- msg:
		return true
	default:
		a.cfg.Logger.Warnf("[TRANSPORT] Send queue full, dropping message %s", msg.ID)
		return false
	}
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)

	attempts := 0
	backoff := a.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return
		}

		a.setState(StateConnecting)
		conn, err := a.dial(ctx)
		if err != nil {
			attempts++
			a.cfg.Logger.Warnf("[TRANSPORT] Connect attempt %d/%d failed: %v",
				attempts, a.cfg.MaxAttempts, err)
			if attempts >= a.cfg.MaxAttempts {
				a.cfg.Logger.Errorf("[TRANSPORT] Giving up after %d attempts, local-only mode", attempts)
				a.setState(StateFailed)
				return
			}
			a.setState(StateDisconnected)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, a.cfg.MaxBackoff)
			continue
		}

		attempts = 0
		backoff = a.cfg.InitialBackoff
		a.setState(StateConnected)
		a.cfg.Logger.Infof("[TRANSPORT] Connected to %s", a.cfg.URL)

		a.session(ctx, conn)
		a.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		a.cfg.Logger.Infof("[TRANSPORT] Connection lost, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, a.cfg.MaxBackoff)
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dialCtx, a.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// session runs the read and write pumps until the connection drops or ctx
// is canceled.
func (a *Adapter) session(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// The reader is blocked in ReadJSON; bound how long we
				// wait for the peer's close reply so teardown cannot
				// hang on a silent peer.
				_ = conn.SetReadDeadline(time.Now().Add(closeGrace))
				return
			case <-readerDone:
				return
			case msg := <-a.send:
				if err := conn.WriteJSON(msg); err != nil {
					a.cfg.Logger.Errorf("[TRANSPORT] Write error: %v", err)
					return
				}
			}
		}
	}()

	for {
		var msg domain.ChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// Both parse failures and closed connections land here;
			// gorilla makes JSON errors terminal on the stream.
			if ctx.Err() == nil {
				a.cfg.Logger.Debugf("[TRANSPORT] Read loop ended: %v", err)
			}
			break
		}
		if !msg.Valid() || msg.SenderID == a.cfg.SelfID {
			continue
		}
		if a.cfg.OnMessage != nil {
			a.cfg.OnMessage(msg)
		}
	}

	close(readerDone)
	<-writerDone
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	cb := a.cfg.OnStateChange
	a.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
