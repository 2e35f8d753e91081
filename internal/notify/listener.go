package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

// State is the listener connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Status is the operator-facing listener snapshot.
type Status struct {
	State       State `json:"state"`
	Attempts    int   `json:"reconnect_attempts"`
	Subscribers int   `json:"subscribers"`
}

// Listener holds the single long-lived LISTEN connection to the primary
// store. It survives connection loss with exponential backoff and keeps
// all subscribers registered across reconnects; after the attempt budget
// is exhausted it emits a terminal error and stays down until operator
// intervention.
type Listener struct {
	registry    *Registry
	maxAttempts int
	logger      *log.Logger

	mu          sync.Mutex
	url         string
	state       State
	attempts    int
	conn        *pq.ListenerConn
	closing     bool
	initialized bool
	done        chan struct{}
	closeCh     chan struct{}

	onTerminalError func(error)
}

// NewListener creates the listener around a subscriber registry.
func NewListener(registry *Registry, maxReconnectAttempts int) *Listener {
	if maxReconnectAttempts <= 0 {
		maxReconnectAttempts = 10
	}
	return &Listener{
		registry:    registry,
		maxAttempts: maxReconnectAttempts,
		logger:      log.New(log.Writer(), "[NOTIFY-SUB] ", log.LstdFlags),
		state:       StateDisconnected,
		done:        make(chan struct{}),
		closeCh:     make(chan struct{}),
	}
}

// OnTerminalError installs the callback fired when the reconnect budget
// is exhausted. Must be set before Initialize.
func (l *Listener) OnTerminalError(fn func(error)) {
	l.mu.Lock()
	l.onTerminalError = fn
	l.mu.Unlock()
}

// Initialize connects and starts the listen loop. Idempotent.
func (l *Listener) Initialize(url string) error {
	l.mu.Lock()
	if l.initialized {
		l.mu.Unlock()
		return nil
	}
	l.initialized = true
	l.url = url
	l.mu.Unlock()

	go l.run()
	return nil
}

// Subscribe registers a live subscriber; it remains registered across
// reconnects until unsubscribed or shutdown.
func (l *Listener) Subscribe(s *Subscriber) (string, func()) {
	return l.registry.Subscribe(s)
}

// Unsubscribe removes a subscriber by connection id.
func (l *Listener) Unsubscribe(id string) {
	l.registry.Unsubscribe(id)
}

// Status returns the current connection state.
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:       l.state,
		Attempts:    l.attempts,
		Subscribers: l.registry.Count(),
	}
}

// Shutdown unlistens, closes the connection and clears subscribers.
// Safe to call multiple times and before Initialize.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	close(l.closeCh)
	conn := l.conn
	initialized := l.initialized
	l.mu.Unlock()

	if conn != nil {
		conn.UnlistenAll()
		conn.Close()
	}
	if initialized {
		<-l.done
	}
	l.registry.Clear()
	l.setState(StateDisconnected)
	l.logger.Println("Listener shut down")
}

// run is the connect/listen/reconnect loop.
func (l *Listener) run() {
	defer close(l.done)

	for {
		if l.isClosing() {
			return
		}

		l.setState(StateConnecting)
		ch := make(chan *pq.Notification, 64)
		conn, err := pq.NewListenerConn(l.url, ch)
		if err == nil {
			var ok bool
			ok, err = conn.Listen(Channel)
			if err == nil && !ok {
				err = fmt.Errorf("LISTEN %s refused", Channel)
			}
			if err != nil {
				conn.Close()
			}
		}

		if err != nil {
			l.setState(StateDisconnected)
			if l.isClosing() {
				return
			}
			if !l.backoffOrGiveUp(err) {
				return
			}
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.attempts = 0
		l.mu.Unlock()
		l.setState(StateListening)
		l.logger.Printf("Listening on channel %q", Channel)

		// Blocks until the connection drops and pq closes the channel.
		for n := range ch {
			l.handle(n)
		}

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()

		if l.isClosing() {
			return
		}
		l.setState(StateDisconnected)
		l.logger.Printf("⚠️  Listener connection lost: %v", conn.Err())
		if !l.backoffOrGiveUp(conn.Err()) {
			return
		}
	}
}

// backoffOrGiveUp sleeps min(1000·2^(attempt-1), 30000)ms before the
// next attempt. Returns false once the attempt budget is exhausted,
// after emitting the terminal error.
func (l *Listener) backoffOrGiveUp(cause error) bool {
	l.mu.Lock()
	l.attempts++
	attempt := l.attempts
	terminal := l.onTerminalError
	l.mu.Unlock()

	if attempt > l.maxAttempts {
		err := fmt.Errorf("listener gave up after %d reconnect attempts: %w", l.maxAttempts, cause)
		l.logger.Printf("❌ %v", err)
		if terminal != nil {
			terminal(err)
		}
		return false
	}

	delay := reconnectDelay(attempt)
	l.logger.Printf("Reconnect attempt %d/%d in %s", attempt, l.maxAttempts, delay)
	metricsNotify().Reconnects.Inc()
	select {
	case <-l.closeCh:
		return false
	case <-time.After(delay):
		return true
	}
}

// reconnectDelay is the backoff schedule: 1s doubling per attempt,
// capped at 30s.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBaseDelay << (attempt - 1)
	if d <= 0 || d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

// handle parses and dispatches one channel message. Messages on other
// channels or with malformed payloads are logged and dropped.
func (l *Listener) handle(n *pq.Notification) {
	if n == nil || n.Channel != Channel {
		return
	}

	var payload LogNotification
	if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
		l.logger.Printf("⚠️  Malformed payload on %s: %v", Channel, err)
		return
	}

	l.registry.Dispatch(context.Background(), payload)
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}
