package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newHub(t *testing.T, ids ...string) (*Hub, map[string]*fakeSink) {
	t.Helper()
	conns := NewConnManager()
	sinks := make(map[string]*fakeSink, len(ids))
	for _, id := range ids {
		s := &fakeSink{}
		if err := conns.Add(id, s); err != nil {
			t.Fatal(err)
		}
		sinks[id] = s
	}
	return NewHub(conns, nil), sinks
}

func TestHubBroadcastExclude(t *testing.T) {
	h, sinks := newHub(t, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		if err := h.Join("general", id, nil); err != nil {
			t.Fatal(err)
		}
	}
	rep := h.Broadcast("general", Event{Kind: KindTyping, Channel: "general", Data: TypingNotice{UserID: "u-a"}}, "a")
	if len(rep.Delivered) != 2 || len(rep.Failed) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(sinks["a"].ofKind(KindTyping)) != 0 {
		t.Fatal("excluded member received event")
	}
	if len(sinks["b"].ofKind(KindTyping)) != 1 || len(sinks["c"].ofKind(KindTyping)) != 1 {
		t.Fatal("members missed event")
	}
}

func TestHubFailureIsolation(t *testing.T) {
	h, sinks := newHub(t, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		_ = h.Join("general", id, nil)
	}
	sinks["b"].setFail(true)
	rep := h.Broadcast("general", Event{Kind: KindNewMessage, Data: "x"}, "")
	if len(rep.Delivered) != 2 || len(rep.Failed) != 1 || rep.Failed[0] != "b" {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Total() != 3 {
		t.Fatalf("total = %d", rep.Total())
	}
}

func TestHubMissingSinkCountsAsFailure(t *testing.T) {
	h, _ := newHub(t, "a")
	_ = h.Join("general", "a", nil)
	_ = h.Join("general", "ghost", nil)
	rep := h.Broadcast("general", Event{Kind: KindNewMessage}, "")
	if len(rep.Delivered) != 1 || len(rep.Failed) != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestHubChannelRemovedWhenEmpty(t *testing.T) {
	h, _ := newHub(t, "a", "b")
	_ = h.Join("general", "a", nil)
	_ = h.Join("general", "b", nil)
	if got := h.MembersOf("general"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("members = %v", got)
	}
	if !h.Leave("general", "a") || h.Leave("general", "a") {
		t.Fatal("Leave return values wrong")
	}
	h.Leave("general", "b")
	if len(h.Channels()) != 0 {
		t.Fatalf("channels = %v", h.Channels())
	}
	if got := h.MembersOf("general"); got == nil || len(got) != 0 {
		t.Fatalf("members of removed channel = %#v", got)
	}
	// 删除后可重新创建
	_ = h.Join("general", "a", nil)
	if len(h.MembersOf("general")) != 1 {
		t.Fatal("rejoin after removal failed")
	}
}

func TestHubJoinRollbackOnError(t *testing.T) {
	h, _ := newHub(t, "a")
	boom := errors.New("boom")
	if err := h.Join("general", "a", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(h.MembersOf("general")) != 0 || len(h.Channels()) != 0 {
		t.Fatal("failed join left membership behind")
	}

	// 已是成员时失败不影响原成员关系
	_ = h.Join("general", "a", nil)
	_ = h.Join("general", "a", func() error { return boom })
	if len(h.MembersOf("general")) != 1 {
		t.Fatal("existing membership lost on failed rejoin")
	}
}

func TestHubPublishBuildErrorSkipsFanout(t *testing.T) {
	h, sinks := newHub(t, "a")
	_ = h.Join("general", "a", nil)
	boom := errors.New("store down")
	_, err := h.Publish("general", "", func() (Event, error) { return Event{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(sinks["a"].ofKind(KindNewMessage)) != 0 {
		t.Fatal("event delivered although build failed")
	}
}

func TestHubPublishPerChannelFIFO(t *testing.T) {
	h, sinks := newHub(t, "r")
	_ = h.Join("general", "r", nil)

	const senders, per = 4, 50
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_, _ = h.Publish("general", "", func() (Event, error) {
					return Event{Kind: KindNewMessage, Data: fmt.Sprintf("%d-%d", s, i)}, nil
				})
			}
		}(s)
	}
	wg.Wait()

	got := sinks["r"].ofKind(KindNewMessage)
	if len(got) != senders*per {
		t.Fatalf("received %d, want %d", len(got), senders*per)
	}
	last := map[int]int{}
	for _, fr := range got {
		var s, i int
		if _, err := fmt.Sscanf(decodeData[string](t, fr), "%d-%d", &s, &i); err != nil {
			t.Fatal(err)
		}
		if prev, ok := last[s]; ok && i <= prev {
			t.Fatalf("sender %d out of order: %d after %d", s, i, prev)
		}
		last[s] = i
	}
}

func TestHubSendToAndBroadcastAll(t *testing.T) {
	h, sinks := newHub(t, "a", "b")
	if err := h.SendTo("a", Event{Kind: KindConnected}); err != nil {
		t.Fatal(err)
	}
	if err := h.SendTo("nope", Event{Kind: KindConnected}); err == nil {
		t.Fatal("SendTo unknown conn succeeded")
	}
	rep := h.BroadcastAll(Event{Kind: KindPresence, Data: PresencePayload{UserID: "u-a", Status: "online"}}, "a")
	if len(rep.Delivered) != 1 || rep.Delivered[0] != "b" {
		t.Fatalf("report = %+v", rep)
	}
	if len(sinks["a"].ofKind(KindPresence)) != 0 {
		t.Fatal("excluded connection got presence")
	}
}
