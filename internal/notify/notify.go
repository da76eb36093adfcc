// Package notify carries the change-notification signal between instances.
// It is an optimization over polling, never a delivery guarantee: a lost
// notification only means the next poll tick finds the change instead.
package notify

// Notifier announces "the shared store changed" to other instances and
// invokes a handler when another instance announces the same.
type Notifier interface {
	Announce() error
	Subscribe(handler func()) error
	Close()
}

// Noop satisfies Notifier for pure-polling deployments.
type Noop struct{}

func (Noop) Announce() error                { return nil }
func (Noop) Subscribe(handler func()) error { return nil }
func (Noop) Close()                         {}
