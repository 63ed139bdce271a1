package auth

import (
	"sync"

	"signin/pkg/oauth"
)

// EventType names a session state change.
type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventRefreshed      EventType = "refreshed"
	EventSignedOut      EventType = "signed_out"
	EventReauthRequired EventType = "reauth_required"
)

// Event is delivered to session listeners.
type Event struct {
	Type EventType

	// Credential is the newly active credential for signed_in and refreshed.
	Credential *oauth.Credential

	// Err carries the cause of reauth_required.
	Err error
}

// Dispatcher decides where listener callbacks run, for example on a UI
// event loop.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// InlineDispatcher runs callbacks on the goroutine that caused the event.
var InlineDispatcher Dispatcher = DispatcherFunc(func(fn func()) { fn() })

type notifier struct {
	mu         sync.RWMutex
	nextID     int
	listeners  map[int]func(Event)
	dispatcher Dispatcher
}

func newNotifier(d Dispatcher) *notifier {
	if d == nil {
		d = InlineDispatcher
	}
	return &notifier{listeners: make(map[int]func(Event)), dispatcher: d}
}

func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) emit(ev Event) {
	n.mu.RLock()
	fns := make([]func(Event), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		n.dispatcher.Dispatch(func() { fn(ev) })
	}
}
