package presence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"PPHub/tools/errs"

	"github.com/redis/go-redis/v9"
)

type recordMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordMirror) Online(userID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "online:"+userID)
}

func (m *recordMirror) Offline(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "offline:"+userID)
}

func TestRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("c1", "u1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.IsLive("c1") || r.StatusOf("u1") != Online {
		t.Fatal("c1 should be live and u1 online")
	}
	if _, err := r.Register("c1", "u2", "Bob"); err == nil {
		t.Fatal("duplicate connId accepted")
	}
	if e, _ := r.Get("c1"); e.UserID != "u1" {
		t.Fatalf("duplicate register overwrote entry: %+v", e)
	}

	if _, ok := r.Unregister("c1"); !ok {
		t.Fatal("Unregister reported missing")
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Fatal("second Unregister should report false")
	}
	if r.IsLive("c1") || r.StatusOf("u1") != Offline || r.Count() != 0 {
		t.Fatal("c1 still present after unregister")
	}
}

func TestRegisterRejectsEmptyIdentity(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("c1", "", "x"); !errors.Is(err, errs.ErrAuthRejected) {
		t.Fatalf("err = %v", err)
	}
	if r.Count() != 0 {
		t.Fatal("rejected register mutated state")
	}
}

func TestJoinLeaveTracksChannels(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register("c1", "u1", "")
	if added, err := r.Join("c1", "general"); err != nil || !added {
		t.Fatalf("Join = %v, %v", added, err)
	}
	if added, _ := r.Join("c1", "general"); added {
		t.Fatal("second join reported as new")
	}
	_, _ = r.Join("c1", "random")

	snap, _ := r.Unregister("c1")
	if !reflect.DeepEqual(snap.Channels, []string{"general", "random"}) {
		t.Fatalf("channels = %v", snap.Channels)
	}
}

func TestJoinLeaveRequireLiveConnection(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Join("ghost", "general"); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("Join err = %v", err)
	}
	if _, err := r.Leave("ghost", "general"); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("Leave err = %v", err)
	}
}

func TestMirrorOnlyOnFirstAndLastConnection(t *testing.T) {
	m := &recordMirror{}
	r := NewRegistry(WithMirror(m))
	_, _ = r.Register("c1", "u1", "")
	_, _ = r.Register("c2", "u1", "")
	r.Unregister("c1")
	r.Unregister("c2")
	r.Unregister("c2")

	want := []string{"online:u1", "offline:u1"}
	if !reflect.DeepEqual(m.ops, want) {
		t.Fatalf("mirror ops = %v, want %v", m.ops, want)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, _ = r.Register(id, fmt.Sprintf("u%d", i%5), "")
			_, _ = r.Join(id, "general")
			r.Unregister(id)
		}(i)
	}
	wg.Wait()
	if r.Count() != 0 || len(r.OnlineUsers()) != 0 {
		t.Fatalf("leaked state: conns=%v users=%v", r.Connections(), r.OnlineUsers())
	}
}

// 需要本地 redis：PPHUB_TEST_REDIS=127.0.0.1:6379
func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("PPHUB_TEST_REDIS")
	if addr == "" {
		t.Skip("PPHUB_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	m := NewRedisMirror(rdb, RedisMirrorConf{NodeID: "node-test", TTL: time.Minute})
	m.Start(func() []string { return nil })

	user := fmt.Sprintf("mirror-test-%d", time.Now().UnixNano())
	m.Online(user, "c1")
	m.Offline(user + "-other")
	m.Stop()

	node, online, err := m.Lookup(context.Background(), user)
	if err != nil || !online || node != "node-test" {
		t.Fatalf("Lookup = %q, %v, %v", node, online, err)
	}
	_ = rdb.Del(context.Background(), presenceKey(user)).Err()
}

func TestMirrorOrderFollowsStateUnderChurn(t *testing.T) {
	m := &recordMirror{}
	r := NewRegistry(WithMirror(m))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("c%d-%d", g, i)
				_, _ = r.Register(id, "flappy", "")
				r.Unregister(id)
			}
		}(g)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.ops {
		want := "online:flappy"
		if i%2 == 1 {
			want = "offline:flappy"
		}
		if op != want {
			t.Fatalf("op %d = %s, want %s (ops not alternating)", i, op, want)
		}
	}
	if len(m.ops) == 0 || m.ops[len(m.ops)-1] != "offline:flappy" {
		t.Fatalf("mirror ops end in %v, registry status = %s", m.ops, r.StatusOf("flappy"))
	}
}
