package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"PPHub/module/message"
	"PPHub/module/presence"
	"PPHub/tools/errs"
)

type fakeSink struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed int
}

func (f *fakeSink) Deliver(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errs.ErrDeliveryFailure.WrapMsg("stalled")
	}
	var fr Frame
	if err := json.Unmarshal(p, &fr); err != nil {
		return err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSink) ofKind(k Kind) []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Frame
	for _, fr := range f.frames {
		if fr.Event == k {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func decodeData[T any](t *testing.T, fr Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(fr.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", fr.Event, err)
	}
	return v
}

type recordingIndexer struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (r *recordingIndexer) ForwardIndex(m message.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recordingIndexer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type testEnv struct {
	sm       *SessionManager
	hub      *Hub
	conns    *ConnManager
	registry *presence.Registry
	store    *message.MemStore
	indexer  *recordingIndexer
}

func newEnv(conf SessionConf, idx Indexer) *testEnv {
	conns := NewConnManager()
	hub := NewHub(conns, nil)
	e := &testEnv{
		hub:      hub,
		conns:    conns,
		registry: presence.NewRegistry(),
		store:    message.NewMemStore(),
		indexer:  &recordingIndexer{},
	}
	if idx == nil {
		idx = e.indexer
	}
	e.sm = NewSessionManager(SessionDeps{
		Registry: e.registry,
		Conns:    conns,
		Hub:      hub,
		Store:    e.store,
		Indexer:  idx,
	}, conf)
	return e
}

func (e *testEnv) connect(t *testing.T, userID string) (Handle, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	h, err := e.sm.Connect(context.Background(), Credentials{UserID: userID, UserName: userID + "-name"}, sink)
	if err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	return h, sink
}

func (e *testEnv) join(t *testing.T, h Handle, ch string) []message.Message {
	t.Helper()
	hist, err := e.sm.JoinChannel(context.Background(), h.ConnID, ch)
	if err != nil {
		t.Fatalf("join %s -> %s: %v", h.ConnID, ch, err)
	}
	return hist
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (f *fakeSink) first() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return Frame{}, false
	}
	return f.frames[0], true
}

// countingAuth 统计握手校验次数
type countingAuth struct {
	inner Authenticator
	mu    sync.Mutex
	calls int
}

func (a *countingAuth) Authenticate(ctx context.Context, c Credentials) (Identity, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.inner.Authenticate(ctx, c)
}

func (a *countingAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
