package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"PPHub/module/message"
	"PPHub/service/search"
	"PPHub/tools/errs"
)

func presenceOf(t *testing.T, s *fakeSink, status string) []PresencePayload {
	t.Helper()
	var out []PresencePayload
	for _, fr := range s.ofKind(KindPresence) {
		p := decodeData[PresencePayload](t, fr)
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func TestConnectRejectsMissingUserID(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	_, watcher := e.connect(t, "w")

	sink := &fakeSink{}
	_, err := e.sm.Connect(context.Background(), Credentials{UserName: "anon"}, sink)
	if !errs.ErrAuthRejected.Is(err) {
		t.Fatalf("err = %v, want AuthRejected", err)
	}
	if e.registry.Count() != 1 || e.conns.Len() != 1 {
		t.Fatal("rejected connect mutated state")
	}
	if len(watcher.ofKind(KindPresence)) != 0 {
		t.Fatal("rejected connect broadcast presence")
	}
	if len(sink.frames) != 0 {
		t.Fatal("rejected connection received frames")
	}
}

func TestConnectSendsConnectedAndPresence(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, sa := e.connect(t, "alice")
	_, sb := e.connect(t, "bob")

	conn := sa.ofKind(KindConnected)
	if len(conn) != 1 {
		t.Fatalf("connected frames = %d", len(conn))
	}
	if p := decodeData[ConnectedPayload](t, conn[0]); p.ConnID != a.ConnID || p.UserID != "alice" || p.Name != "alice-name" {
		t.Fatalf("connected payload = %+v", p)
	}
	on := presenceOf(t, sa, "online")
	if len(on) != 1 || on[0].UserID != "bob" {
		t.Fatalf("alice saw online = %+v", on)
	}
	if len(presenceOf(t, sb, "online")) != 0 {
		t.Fatal("connecting connection received its own online event")
	}
}

func TestPresenceCountsBalance(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	_, watcher := e.connect(t, "watcher")

	const n = 10
	handles := make([]Handle, n)
	for i := range handles {
		handles[i], _ = e.connect(t, fmt.Sprintf("u%d", i))
	}
	for _, h := range handles {
		e.sm.Disconnect(h.ConnID)
		e.sm.Disconnect(h.ConnID)
	}
	on, off := presenceOf(t, watcher, "online"), presenceOf(t, watcher, "offline")
	if len(on) != n || len(off) != n {
		t.Fatalf("online=%d offline=%d, want %d each", len(on), len(off), n)
	}
	if e.registry.Count() != 1 || e.conns.Len() != 1 {
		t.Fatalf("leaked connections: registry=%d conns=%d", e.registry.Count(), e.conns.Len())
	}
}

func TestDisconnectIdempotentUnderConcurrency(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	_, watcher := e.connect(t, "watcher")
	a, sa := e.connect(t, "alice")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.sm.Disconnect(a.ConnID) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("cleanup ran %d times", wins)
	}
	if got := presenceOf(t, watcher, "offline"); len(got) != 1 {
		t.Fatalf("offline broadcasts = %d", len(got))
	}
	if sa.closed != 1 {
		t.Fatalf("sink closed %d times", sa.closed)
	}
	if _, ok := e.sm.Lookup(a.ConnID); ok {
		t.Fatal("session still present")
	}
}

func TestOperationsOnDeadConnection(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, _ := e.connect(t, "alice")
	e.sm.Disconnect(a.ConnID)
	ctx := context.Background()

	if _, err := e.sm.JoinChannel(ctx, a.ConnID, "general"); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("join err = %v", err)
	}
	if _, err := e.sm.SendMessage(ctx, a.ConnID, SendPayload{ChannelID: "general", Content: "hi"}); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("send err = %v", err)
	}
	if err := e.sm.LeaveChannel(ctx, a.ConnID, "general"); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("leave err = %v", err)
	}
	if err := e.sm.RelayTyping(ctx, "never-existed", "general", true); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("typing err = %v", err)
	}
	if len(e.hub.MembersOf("general")) != 0 || e.store.Len() != 0 {
		t.Fatal("operation on dead connection had side effects")
	}
}

func TestGeneralChannelScenario(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	ctx := context.Background()
	a, sa := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	e.join(t, a, "general")
	e.join(t, b, "general")

	msg, err := e.sm.SendMessage(ctx, a.ConnID, SendPayload{ChannelID: "general", Content: "hi", Type: "text"})
	if err != nil {
		t.Fatal(err)
	}

	got := sb.ofKind(KindNewMessage)
	if len(got) != 1 {
		t.Fatalf("bob new-message = %d", len(got))
	}
	m := decodeData[message.Message](t, got[0])
	if m.Content != "hi" || m.UserID != "alice" || m.ChannelID != "general" || m.ID != msg.ID {
		t.Fatalf("bob got %+v", m)
	}
	if len(sa.ofKind(KindNewMessage)) != 1 {
		t.Fatal("sender did not receive its own message")
	}

	hist, _ := e.store.HistoryOf(ctx, "general")
	if len(hist) != 1 || hist[0].Content != "hi" {
		t.Fatalf("history = %+v", hist)
	}
	again, _ := e.sm.History(ctx, "general")
	if len(again) != 1 || again[0].ID != msg.ID {
		t.Fatalf("getHistory = %+v", again)
	}
	if e.indexer.count() != 1 {
		t.Fatalf("indexed %d", e.indexer.count())
	}
}

func TestJoinDeliversHistoryOnlyToJoiner(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	ctx := context.Background()
	a, sa := e.connect(t, "alice")
	e.join(t, a, "general")
	for i := 0; i < 3; i++ {
		if _, err := e.sm.SendMessage(ctx, a.ConnID, SendPayload{ChannelID: "general", Content: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	sa.reset()

	b, sb := e.connect(t, "bob")
	hist := e.join(t, b, "general")
	if len(hist) != 3 {
		t.Fatalf("returned history = %d", len(hist))
	}
	frames := sb.ofKind(KindChannelHistory)
	if len(frames) != 1 || frames[0].Channel != "general" {
		t.Fatalf("history frames = %+v", frames)
	}
	msgs := decodeData[[]message.Message](t, frames[0])
	for i, m := range msgs {
		if m.Content != fmt.Sprint(i) {
			t.Fatalf("history[%d] = %q", i, m.Content)
		}
	}
	if len(sa.ofKind(KindChannelHistory)) != 0 {
		t.Fatal("history leaked to existing member")
	}
}

func TestJoinEmptyChannelSendsEmptyHistory(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, sa := e.connect(t, "alice")
	if hist := e.join(t, a, "fresh"); len(hist) != 0 {
		t.Fatalf("history = %v", hist)
	}
	frames := sa.ofKind(KindChannelHistory)
	if len(frames) != 1 || string(frames[0].Data) != "[]" {
		t.Fatalf("history frame = %+v", frames)
	}
}

func TestFanoutCompletenessAndExclusivity(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	const n, leavers = 20, 5
	handles := make([]Handle, n)
	sinks := make([]*fakeSink, n)
	for i := range handles {
		handles[i], sinks[i] = e.connect(t, fmt.Sprintf("u%d", i))
	}
	sender, ss := e.connect(t, "sender")

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			if _, err := e.sm.JoinChannel(context.Background(), h.ConnID, "general"); err != nil {
				t.Error(err)
			}
		}(h)
	}
	wg.Wait()
	for i := 0; i < leavers; i++ {
		if err := e.sm.LeaveChannel(context.Background(), handles[i].ConnID, "general"); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.sm.SendMessage(context.Background(), sender.ConnID, SendPayload{ChannelID: "general", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	delivered := 0
	for i, s := range sinks {
		got := len(s.ofKind(KindNewMessage))
		if i < leavers && got != 0 {
			t.Fatalf("leaver %d received message", i)
		}
		delivered += got
	}
	if delivered != n-leavers {
		t.Fatalf("delivered %d, want %d", delivered, n-leavers)
	}
	// 未加入频道的发送者不在成员里，收不到回显
	if len(ss.ofKind(KindNewMessage)) != 0 {
		t.Fatal("non-member sender received the message")
	}
}

func TestPerSenderOrdering(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, _ := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	e.join(t, a, "general")
	e.join(t, b, "general")

	const n = 100
	for i := 0; i < n; i++ {
		if _, err := e.sm.SendMessage(context.Background(), a.ConnID, SendPayload{ChannelID: "general", Content: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	got := sb.ofKind(KindNewMessage)
	if len(got) != n {
		t.Fatalf("received %d", len(got))
	}
	var prev time.Time
	for i, fr := range got {
		m := decodeData[message.Message](t, fr)
		if m.Content != fmt.Sprint(i) {
			t.Fatalf("position %d holds %q", i, m.Content)
		}
		if m.CreatedAt.Before(prev) {
			t.Fatal("createdAt went backwards")
		}
		prev = m.CreatedAt
	}
}

func TestDisconnectLeavesAllChannels(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, _ := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	e.join(t, a, "general")
	e.join(t, a, "random")
	e.join(t, b, "general")

	e.sm.Disconnect(a.ConnID)

	if contains(e.hub.MembersOf("general"), a.ConnID) || contains(e.hub.MembersOf("random"), a.ConnID) {
		t.Fatal("disconnected connection still a member")
	}
	if contains(e.hub.Channels(), "random") {
		t.Fatal("empty channel not removed")
	}
	off := presenceOf(t, sb, "offline")
	if len(off) != 1 || off[0].UserID != "alice" {
		t.Fatalf("offline events = %+v", off)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, sa := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	c, sc := e.connect(t, "carol")
	e.join(t, a, "general")
	e.join(t, b, "general")
	_ = c

	if err := e.sm.RelayTyping(context.Background(), a.ConnID, "general", true); err != nil {
		t.Fatal(err)
	}
	if len(sa.ofKind(KindTyping)) != 0 {
		t.Fatal("sender got its own typing event")
	}
	if len(sc.ofKind(KindTyping)) != 0 {
		t.Fatal("non-member got typing event")
	}
	got := sb.ofKind(KindTyping)
	if len(got) != 1 {
		t.Fatalf("bob typing events = %d", len(got))
	}
	if n := decodeData[TypingNotice](t, got[0]); n.UserID != "alice" || !n.IsTyping || n.ChannelID != "general" {
		t.Fatalf("typing notice = %+v", n)
	}
	if e.store.Len() != 0 {
		t.Fatal("typing was persisted")
	}
}

func TestLeaveNotification(t *testing.T) {
	for _, notify := range []bool{false, true} {
		e := newEnv(SessionConf{NotifyLeave: notify}, nil)
		a, _ := e.connect(t, "alice")
		b, sb := e.connect(t, "bob")
		e.join(t, a, "general")
		e.join(t, b, "general")

		if err := e.sm.LeaveChannel(context.Background(), a.ConnID, "general"); err != nil {
			t.Fatal(err)
		}
		got := sb.ofKind(KindMemberLeft)
		want := 0
		if notify {
			want = 1
		}
		if len(got) != want {
			t.Fatalf("notify=%v member-left = %d", notify, len(got))
		}
		if notify {
			if n := decodeData[MemberLeftNotice](t, got[0]); n.UserID != "alice" || n.ChannelID != "general" {
				t.Fatalf("notice = %+v", n)
			}
		}
	}
}

func TestSearchDownStillDelivers(t *testing.T) {
	bridge := search.NewBridge(search.NewNone(), search.WithForwarder(
		search.NewPool("direct", 1, 4, time.Second, search.NewNone().Index)))
	defer bridge.Close()

	e := newEnv(SessionConf{}, bridge)
	ctx := context.Background()
	a, _ := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	e.join(t, a, "general")
	e.join(t, b, "general")

	if _, err := e.sm.SendMessage(ctx, a.ConnID, SendPayload{ChannelID: "general", Content: "hi", Type: "text"}); err != nil {
		t.Fatalf("send failed with search down: %v", err)
	}
	if len(sb.ofKind(KindNewMessage)) != 1 {
		t.Fatal("message not delivered")
	}
	if hist, _ := e.sm.History(ctx, "general"); len(hist) != 1 {
		t.Fatal("message not stored")
	}
	res := bridge.Query(ctx, "hi", "")
	if res == nil || len(res) != 0 {
		t.Fatalf("search = %#v, want empty", res)
	}
}

func TestStalledMemberDoesNotBlockOthers(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, _ := e.connect(t, "alice")
	b, sb := e.connect(t, "bob")
	c, sc := e.connect(t, "carol")
	for _, h := range []Handle{a, b, c} {
		e.join(t, h, "general")
	}
	sb.setFail(true)

	if _, err := e.sm.SendMessage(context.Background(), a.ConnID, SendPayload{ChannelID: "general", Content: "hi"}); err != nil {
		t.Fatalf("send failed because of one stalled member: %v", err)
	}
	if len(sc.ofKind(KindNewMessage)) != 1 {
		t.Fatal("healthy member missed the message")
	}
	if e.store.Len() != 1 {
		t.Fatal("store write rolled back")
	}
}

func TestSendValidation(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	a, _ := e.connect(t, "alice")
	if _, err := e.sm.SendMessage(context.Background(), a.ConnID, SendPayload{Content: "hi"}); !errs.ErrInvalidPayload.Is(err) {
		t.Fatalf("err = %v", err)
	}
	m, err := e.sm.SendMessage(context.Background(), a.ConnID, SendPayload{ChannelID: "general", Content: ""})
	if err != nil {
		t.Fatalf("empty content rejected: %v", err)
	}
	if m.Type != message.DefaultType {
		t.Fatalf("type = %q", m.Type)
	}
}

func TestDisconnectRacingWithOperations(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	b, _ := e.connect(t, "bob")
	e.join(t, b, "general")

	for round := 0; round < 20; round++ {
		a, _ := e.connect(t, fmt.Sprintf("a%d", round))
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = e.sm.JoinChannel(context.Background(), a.ConnID, "general")
			_, _ = e.sm.JoinChannel(context.Background(), a.ConnID, "other")
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, _ = e.sm.SendMessage(context.Background(), a.ConnID, SendPayload{ChannelID: "general", Content: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			e.sm.Disconnect(a.ConnID)
		}()
		wg.Wait()

		if contains(e.hub.MembersOf("general"), a.ConnID) || contains(e.hub.MembersOf("other"), a.ConnID) {
			t.Fatalf("round %d: orphaned membership", round)
		}
		if e.registry.IsLive(a.ConnID) {
			t.Fatalf("round %d: registry still live", round)
		}
	}
	if got := e.hub.MembersOf("general"); len(got) != 1 || got[0] != b.ConnID {
		t.Fatalf("general members = %v", got)
	}
}

func TestConnectedIsFirstFrameUnderConcurrentConnects(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	e.connect(t, "early")

	const n = 20
	sinks := make([]*fakeSink, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sinks[i] = &fakeSink{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.sm.Connect(context.Background(), Credentials{UserID: fmt.Sprintf("u%d", i)}, sinks[i]); err != nil {
				t.Errorf("connect u%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	for i, s := range sinks {
		f, ok := s.first()
		if !ok || f.Event != KindConnected {
			t.Fatalf("u%d first frame = %+v (ok=%v)", i, f, ok)
		}
	}
}

func TestConnectRejectsDeadSinkWithoutSideEffects(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	_, watcher := e.connect(t, "watcher")
	watcher.reset()

	dead := &fakeSink{}
	dead.setFail(true)
	if _, err := e.sm.Connect(context.Background(), Credentials{UserID: "ghost"}, dead); !errs.ErrDeliveryFailure.Is(err) {
		t.Fatalf("err = %v", err)
	}
	if e.registry.Count() != 1 || e.conns.Len() != 1 {
		t.Fatalf("leaked: registry=%d conns=%d", e.registry.Count(), e.conns.Len())
	}
	if len(watcher.ofKind(KindPresence)) != 0 {
		t.Fatal("presence broadcast for a rejected connection")
	}
}

func TestConnectIdentitySkipsAuthenticator(t *testing.T) {
	e := newEnv(SessionConf{}, nil)
	auth := &countingAuth{inner: PlainAuth{}}
	e.sm.auth = auth

	h, err := e.sm.ConnectIdentity(context.Background(), Identity{UserID: "vera", Name: "Vera"}, &fakeSink{})
	if err != nil || h.UserID != "vera" || h.Name != "Vera" {
		t.Fatalf("ConnectIdentity = %+v, %v", h, err)
	}
	if auth.count() != 0 {
		t.Fatalf("authenticator called %d times", auth.count())
	}
	if _, err := e.sm.ConnectIdentity(context.Background(), Identity{}, &fakeSink{}); !errs.ErrAuthRejected.Is(err) {
		t.Fatalf("empty identity err = %v", err)
	}
}
