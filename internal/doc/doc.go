// Package doc provides the collaborative document engine used by octosync.
//
// A Doc wraps an automerge document with an identity and a synchronous
// observer list. Every change to the document, local or merged from a peer,
// is delivered to the observers as an Event carrying the serialized update.
//
// Dispatch is serialized: observers see events one at a time, in the order
// the changes were made, and the next change does not start dispatching until
// every observer has returned from the current one.
package doc

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

// Origin tells observers where a change came from.
type Origin string

const (
	// OriginLocal marks changes made through this process's Doc methods.
	OriginLocal Origin = "local"
	// OriginRemote marks changes merged from a sync peer.
	OriginRemote Origin = "remote"
)

// Event describes a single document change.
type Event struct {
	// Update is the serialized delta of the change. It can be replayed with
	// Load or Doc.ApplyUpdate on another document.
	Update []byte
}

// Handler receives document events.
//
// Handlers run on the goroutine that changed the document. They must not
// change the document or unsubscribe themselves.
type Handler func(origin Origin, ev Event)

// Subscription is returned by Observe.
type Subscription interface {
	// Unsubscribe detaches the handler. Once it returns the handler is never
	// invoked again. Calling it more than once is a no-op.
	Unsubscribe()
}

// Document is the part of a document the storage layer depends on.
type Document interface {
	// ID returns the document identity (the workspace id).
	ID() string
	// ClientID returns the id this replica writes changes under.
	ClientID() string
	// Observe registers a handler for every subsequent change.
	Observe(h Handler) Subscription
}

// Doc is an automerge-backed Document.
type Doc struct {
	id string

	// dispatchMu orders changes and their dispatch. It is held from the start
	// of a change until every observer has seen it.
	dispatchMu sync.Mutex

	mu sync.Mutex // guards am
	am *automerge.Doc

	obsMu     sync.Mutex
	observers []*observer
}

var _ Document = (*Doc)(nil)

// New creates an empty document.
func New(id string) *Doc {
	return &Doc{id: id, am: automerge.New()}
}

// Load creates a document by replaying updates in order.
func Load(id string, updates [][]byte) (*Doc, error) {
	am := automerge.New()
	for i, u := range updates {
		if len(u) == 0 {
			continue
		}
		if err := am.LoadIncremental(u); err != nil {
			return nil, fmt.Errorf("failed to load update %d of %s: %w", i, id, err)
		}
	}

	// Reset the incremental save point so the replayed history is not
	// reported again as the next change.
	am.SaveIncremental()

	return &Doc{id: id, am: am}, nil
}

// ID implements Document.
func (d *Doc) ID() string {
	return d.id
}

// ClientID implements Document. It is the automerge actor id.
func (d *Doc) ClientID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.am.ActorID()
}

// Observe implements Document.
func (d *Doc) Observe(h Handler) Subscription {
	o := &observer{doc: d, handler: h, active: true}

	d.obsMu.Lock()
	d.observers = append(d.observers, o)
	d.obsMu.Unlock()

	return o
}

// ObserverCount returns the number of attached observers.
func (d *Doc) ObserverCount() int {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	return len(d.observers)
}

// Change applies fn to the underlying automerge document, commits it and
// dispatches the resulting update as a local event.
func (d *Doc) Change(message string, fn func(am *automerge.Doc) error) error {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	d.mu.Lock()
	if err := fn(d.am); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, err := d.am.Commit(message); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to commit change: %w", err)
	}
	update := d.am.SaveIncremental()
	d.mu.Unlock()

	d.emit(OriginLocal, update)
	return nil
}

// ApplyUpdate merges a serialized update produced by another replica and
// dispatches it as a remote event.
func (d *Doc) ApplyUpdate(update []byte) error {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	d.mu.Lock()
	if err := d.am.LoadIncremental(update); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to apply update: %w", err)
	}
	merged := d.am.SaveIncremental()
	d.mu.Unlock()

	d.emit(OriginRemote, merged)
	return nil
}

// Set sets a root-level key.
func (d *Doc) Set(key string, value any) error {
	return d.Change("set "+key, func(am *automerge.Doc) error {
		if err := am.Path(key).Set(value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes a root-level key.
func (d *Doc) Delete(key string) error {
	return d.Change("delete "+key, func(am *automerge.Doc) error {
		if err := am.Root().Map().Delete(key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
}

// Get returns the value of a root-level key as a Go value.
// The second result is false if the key is not set.
func (d *Doc) Get(key string) (any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.am.Path(key).Get()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if v.Kind() == automerge.KindVoid {
		return nil, false, nil
	}
	return v.Interface(), true, nil
}

// Keys returns the root-level keys.
func (d *Doc) Keys() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys, err := d.am.Root().Map().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Heads returns the hashes of the current heads, hex encoded.
func (d *Doc) Heads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	heads := d.am.Heads()
	out := make([]string, len(heads))
	for i, h := range heads {
		out[i] = h.String()
	}
	return out
}

// Save returns the full serialized document.
func (d *Doc) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.am.Save()
}

// emit delivers an event to every active observer. Callers hold dispatchMu.
func (d *Doc) emit(origin Origin, update []byte) {
	if len(update) == 0 {
		return
	}

	d.obsMu.Lock()
	observers := make([]*observer, len(d.observers))
	copy(observers, d.observers)
	d.obsMu.Unlock()

	for _, o := range observers {
		o.deliver(origin, Event{Update: update})
	}
}

func (d *Doc) remove(o *observer) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	for i, x := range d.observers {
		if x == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			return
		}
	}
}

type observer struct {
	doc     *Doc
	handler Handler

	mu     sync.Mutex // held while the handler runs
	active bool
}

func (o *observer) deliver(origin Origin, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active {
		o.handler(origin, ev)
	}
}

func (o *observer) Unsubscribe() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()

	o.doc.remove(o)
}
