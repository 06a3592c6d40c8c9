package doc

import (
	"sync"
	"testing"
)

// recorder collects events delivered to an observer.
type recorder struct {
	mu      sync.Mutex
	origins []Origin
	updates [][]byte
}

func (r *recorder) handle(origin Origin, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origins = append(r.origins, origin)
	r.updates = append(r.updates, ev.Update)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// syncPeers exchanges messages until neither side has anything to send.
func syncPeers(t *testing.T, a, b *Peer) {
	t.Helper()

	for i := 0; i < 32; i++ {
		msgA, okA := a.GenerateMessage()
		if okA {
			if err := b.ReceiveMessage(msgA); err != nil {
				t.Fatalf("ReceiveMessage() failed: %v", err)
			}
		}
		msgB, okB := b.GenerateMessage()
		if okB {
			if err := a.ReceiveMessage(msgB); err != nil {
				t.Fatalf("ReceiveMessage() failed: %v", err)
			}
		}
		if !okA && !okB {
			return
		}
	}
	t.Fatal("peers did not converge")
}

func TestDoc_SetEmitsOneLocalEventPerChange(t *testing.T) {
	d := New("ws")
	var rec recorder
	d.Observe(rec.handle)

	for i, key := range []string{"a", "b", "c"} {
		if err := d.Set(key, int64(i)); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}

	if rec.count() != 3 {
		t.Fatalf("got %d events, want 3", rec.count())
	}
	for i, origin := range rec.origins {
		if origin != OriginLocal {
			t.Errorf("event %d origin = %q, want %q", i, origin, OriginLocal)
		}
		if len(rec.updates[i]) == 0 {
			t.Errorf("event %d has an empty update", i)
		}
	}
}

func TestDoc_GetAndKeys(t *testing.T) {
	d := New("ws")

	if err := d.Set("title", "hello"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	v, ok, err := d.Get("title")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok || v != "hello" {
		t.Errorf("Get(title) = %v, %v, want hello, true", v, ok)
	}

	if _, ok, err := d.Get("missing"); err != nil || ok {
		t.Errorf("Get(missing) = _, %v, %v, want false, nil", ok, err)
	}

	keys, err := d.Keys()
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "title" {
		t.Errorf("Keys() = %v, want [title]", keys)
	}

	if err := d.Delete("title"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok, _ := d.Get("title"); ok {
		t.Error("Get(title) found the key after Delete")
	}
}

func TestDoc_UnsubscribeStopsDelivery(t *testing.T) {
	d := New("ws")
	var kept, dropped recorder
	d.Observe(kept.handle)
	sub := d.Observe(dropped.handle)

	if err := d.Set("a", "1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if err := d.Set("b", "2"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if kept.count() != 2 {
		t.Errorf("kept observer got %d events, want 2", kept.count())
	}
	if dropped.count() != 1 {
		t.Errorf("dropped observer got %d events, want 1", dropped.count())
	}
	if d.ObserverCount() != 1 {
		t.Errorf("ObserverCount() = %d, want 1", d.ObserverCount())
	}
}

func TestLoad_ReplaysUpdates(t *testing.T) {
	src := New("ws")
	var rec recorder
	src.Observe(rec.handle)

	if err := src.Set("a", "1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := src.Set("b", "2"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	loaded, err := Load("ws", rec.updates)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		v, ok, err := loaded.Get(key)
		if err != nil || !ok || v != want {
			t.Errorf("Get(%s) = %v, %v, %v, want %s", key, v, ok, err, want)
		}
	}

	// The replayed history must not be reported as a new change.
	var after recorder
	loaded.Observe(after.handle)
	if err := loaded.Set("c", "3"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	again, err := Load("ws", append(rec.updates, after.updates...))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if v, ok, _ := again.Get("c"); !ok || v != "3" {
		t.Errorf("Get(c) = %v, %v, want 3, true", v, ok)
	}
}

func TestLoad_CorruptUpdate(t *testing.T) {
	if _, err := Load("ws", [][]byte{[]byte("not an automerge change")}); err == nil {
		t.Fatal("Load() succeeded, want error")
	}
}

func TestApplyUpdate_EmitsRemoteEvent(t *testing.T) {
	src := New("ws")
	var srcRec recorder
	src.Observe(srcRec.handle)
	if err := src.Set("k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	dst := New("ws")
	var dstRec recorder
	dst.Observe(dstRec.handle)
	if err := dst.ApplyUpdate(srcRec.updates[0]); err != nil {
		t.Fatalf("ApplyUpdate() failed: %v", err)
	}

	if dstRec.count() != 1 || dstRec.origins[0] != OriginRemote {
		t.Fatalf("got origins %v, want [remote]", dstRec.origins)
	}
	if v, ok, _ := dst.Get("k"); !ok || v != "v" {
		t.Errorf("Get(k) = %v, %v, want v, true", v, ok)
	}
}

func TestPeer_Converges(t *testing.T) {
	a := New("ws")
	b := New("ws")

	if err := a.Set("from-a", "1"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := b.Set("from-b", "2"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var bRec recorder
	b.Observe(bRec.handle)

	syncPeers(t, a.NewPeer(), b.NewPeer())

	for _, d := range []*Doc{a, b} {
		keys, err := d.Keys()
		if err != nil {
			t.Fatalf("Keys() failed: %v", err)
		}
		if len(keys) != 2 {
			t.Errorf("Keys() = %v, want both keys", keys)
		}
	}

	if bRec.count() == 0 {
		t.Error("no remote event dispatched on b")
	}
	for _, origin := range bRec.origins {
		if origin != OriginRemote {
			t.Errorf("origin = %q, want %q", origin, OriginRemote)
		}
	}
}

func TestDoc_ConcurrentChangesDispatchInOrder(t *testing.T) {
	d := New("ws")

	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	d.Observe(func(Origin, Event) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = d.Set("k", int64(i))
		}(i)
	}
	wg.Wait()

	if overlap {
		t.Error("observer dispatches overlapped")
	}
}
