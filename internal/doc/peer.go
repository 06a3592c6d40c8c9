package doc

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Peer tracks the automerge sync state between a Doc and one remote replica.
//
// A Doc may have many peers (the relay keeps one per connection). Peer methods
// are safe to call concurrently with changes to the Doc.
type Peer struct {
	doc   *Doc
	state *automerge.SyncState
}

// NewPeer starts a fresh sync state against an unknown remote replica.
func (d *Doc) NewPeer() *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	return &Peer{doc: d, state: automerge.NewSyncState(d.am)}
}

// GenerateMessage returns the next sync message for the remote replica.
// The second result is false when the remote is already up to date.
func (p *Peer) GenerateMessage() ([]byte, bool) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()

	msg, ok := p.state.GenerateMessage()
	if !ok {
		return nil, false
	}
	return msg.Bytes(), true
}

// ReceiveMessage merges a sync message from the remote replica. If the
// message carried changes, they are dispatched to observers as a remote event
// before ReceiveMessage returns.
func (p *Peer) ReceiveMessage(msg []byte) error {
	d := p.doc

	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	d.mu.Lock()
	if _, err := p.state.ReceiveMessage(msg); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to receive sync message: %w", err)
	}
	update := d.am.SaveIncremental()
	d.mu.Unlock()

	d.emit(OriginRemote, update)
	return nil
}
