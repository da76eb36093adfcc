package notify

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSNotifier fans the change signal out through a NATS subject, waking
// remote instances faster than their poll interval would.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSNotifier(url, channel string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSNotifier{
		conn:    nc,
		subject: fmt.Sprintf("chat.sync.%s", channel),
	}, nil
}

func (n *NATSNotifier) Announce() error {
	return n.conn.Publish(n.subject, nil)
}

// Subscribe registers the wake handler. Only one subscription is kept;
// repeated calls are no-ops.
func (n *NATSNotifier) Subscribe(handler func()) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return nil
	}
	sub, err := n.conn.Subscribe(n.subject, func(*nats.Msg) {
		handler()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	n.sub = sub
	return nil
}

func (n *NATSNotifier) Close() {
	n.mu.Lock()
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
		n.sub = nil
	}
	n.mu.Unlock()
	n.conn.Close()
}
