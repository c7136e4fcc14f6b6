package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakePeer records delivered events.
type fakePeer struct {
	mu     sync.Mutex
	events []Event
	reject bool
}

func (p *fakePeer) Deliver(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false
	}
	p.events = append(p.events, ev)
	return true
}

func (p *fakePeer) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, cfg Config, clk Clock) *Registry {
	t.Helper()
	return NewRegistry(cfg, nil, clk, testLogger())
}

func TestCreateRoom_CodesAreUniqueAndWellFormed(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		info, err := g.CreateRoom()
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		if len(info.Code) != DefaultCodeLength {
			t.Fatalf("code %q length=%d, want %d", info.Code, len(info.Code), DefaultCodeLength)
		}
		for _, c := range info.Code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", info.Code, c)
			}
		}
		if seen[info.Code] {
			t.Fatalf("code %q issued twice", info.Code)
		}
		seen[info.Code] = true

		if !info.ExpiresAt.Equal(info.CreatedAt.Add(DefaultRoomTTL)) {
			t.Fatalf("ExpiresAt=%v, want CreatedAt+%v", info.ExpiresAt, DefaultRoomTTL)
		}
	}
}

func TestCreateRoom_ConcurrentCallersGetDistinctCodes(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())

	const n = 50
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := g.CreateRoom()
			if err != nil {
				t.Errorf("CreateRoom: %v", err)
				return
			}
			codes <- info.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		if seen[code] {
			t.Fatalf("code %q issued to two concurrent callers", code)
		}
		seen[code] = true
	}
}

func TestStatus_UnknownCode(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())

	if _, err := g.Status("NOPE42"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Status err=%v, want ErrRoomNotFound", err)
	}
	exists, _ := g.Exists("NOPE42")
	if exists {
		t.Fatalf("Exists=true for unknown code")
	}
}

func TestJoin_FillsSlotsAndNotifiesOtherSide(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, err := g.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	p1 := &fakePeer{}
	occ, err := g.Join(info.Code, RoleInitiator, "client-1", "conn-1", p1)
	if err != nil {
		t.Fatalf("Join initiator: %v", err)
	}
	if !occ.HasInitiator || occ.HasResponder {
		t.Fatalf("occupancy=%+v after first join, want initiator only", occ)
	}
	if len(p1.Events()) != 0 {
		t.Fatalf("initiator notified before responder joined: %v", p1.Events())
	}

	p2 := &fakePeer{}
	occ, err = g.Join(info.Code, RoleResponder, "client-2", "conn-2", p2)
	if err != nil {
		t.Fatalf("Join responder: %v", err)
	}
	if !occ.HasInitiator || !occ.HasResponder {
		t.Fatalf("occupancy=%+v after second join, want both", occ)
	}

	events := p1.Events()
	if len(events) != 1 {
		t.Fatalf("initiator events=%v, want exactly one peer_joined", events)
	}
	ev := events[0]
	if ev.Type != EventPeerJoined || ev.Role != RoleResponder || ev.ClientID != "client-2" {
		t.Fatalf("peer_joined event=%+v", ev)
	}
	if len(p2.Events()) != 0 {
		t.Fatalf("joining side was notified of its own join: %v", p2.Events())
	}
}

func TestJoin_RoleConflictLeavesOccupantUntouched(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	p1 := &fakePeer{}
	if _, err := g.Join(info.Code, RoleInitiator, "client-1", "conn-1", p1); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := g.Join(info.Code, RoleInitiator, "client-x", "conn-x", &fakePeer{}); !errors.Is(err, ErrRoleConflict) {
		t.Fatalf("Join err=%v, want ErrRoleConflict", err)
	}

	// The original occupant still receives relayed signals.
	if err := g.Relay(info.Code, "conn-other", "client-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Relay to original occupant: %v", err)
	}
}

func TestJoin_IdempotentRejoinSameConnection(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	if _, err := g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	occ, err := g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{})
	if err != nil {
		t.Fatalf("rejoin err=%v, want nil", err)
	}
	if !occ.HasInitiator {
		t.Fatalf("occupancy=%+v after rejoin", occ)
	}
}

func TestJoin_ExpiredRoom(t *testing.T) {
	clk := newFakeClock()
	g := newTestRegistry(t, Config{RoomTTL: time.Minute}, clk)
	info, _ := g.CreateRoom()

	clk.Advance(time.Minute - time.Second)
	if _, err := g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{}); err != nil {
		t.Fatalf("Join just before expiry: %v", err)
	}

	clk.Advance(2 * time.Second)
	if _, err := g.Join(info.Code, RoleResponder, "client-2", "conn-2", &fakePeer{}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Join after expiry err=%v, want ErrRoomNotFound", err)
	}
	if _, err := g.Status(info.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Status after expiry err=%v, want ErrRoomNotFound", err)
	}
}

func TestLeave_NotifiesRemainingAndDeletesEmptyRoom(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	p1 := &fakePeer{}
	p2 := &fakePeer{}
	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", p1)
	g.Join(info.Code, RoleResponder, "client-2", "conn-2", p2)

	g.Leave(info.Code, "conn-2")

	events := p1.Events()
	var left *Event
	for i := range events {
		if events[i].Type == EventPeerLeft {
			left = &events[i]
		}
	}
	if left == nil || left.Role != RoleResponder || left.ClientID != "client-2" {
		t.Fatalf("peer_left event=%v, want responder client-2", left)
	}

	status, err := g.Status(info.Code)
	if err != nil || status.HasResponder {
		t.Fatalf("Status=(%+v, %v) after one leave, want initiator-only room", status, err)
	}

	g.Leave(info.Code, "conn-1")
	if _, err := g.Status(info.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Status err=%v after both left, want ErrRoomNotFound", err)
	}
	if g.Len() != 0 {
		t.Fatalf("Len()=%d after both left, want 0", g.Len())
	}
}

func TestLeave_IdempotentOnRaces(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	g.Leave("UNKNOWN", "conn-1")
	g.Leave(info.Code, "conn-1")

	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{})
	g.Leave(info.Code, "conn-1")
	g.Leave(info.Code, "conn-1")
}

func TestRelay_DeliversExactlyOnceToTargetOnly(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	p1 := &fakePeer{}
	p2 := &fakePeer{}
	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", p1)
	g.Join(info.Code, RoleResponder, "client-2", "conn-2", p2)

	// A second room that must never see the signal.
	other, _ := g.CreateRoom()
	p3 := &fakePeer{}
	g.Join(other.Code, RoleInitiator, "client-3", "conn-3", p3)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := g.Relay(info.Code, "conn-1", "client-2", payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	var signals []Event
	for _, ev := range p2.Events() {
		if ev.Type == EventSignal {
			signals = append(signals, ev)
		}
	}
	if len(signals) != 1 {
		t.Fatalf("target signals=%v, want exactly one", signals)
	}
	if signals[0].FromClientID != "client-1" {
		t.Fatalf("FromClientID=%q, want client-1 resolved from sender state", signals[0].FromClientID)
	}
	if string(signals[0].Payload) != string(payload) {
		t.Fatalf("payload=%s, want unmodified %s", signals[0].Payload, payload)
	}

	for _, p := range []*fakePeer{p1, p3} {
		for _, ev := range p.Events() {
			if ev.Type == EventSignal {
				t.Fatalf("signal leaked to non-target peer: %+v", ev)
			}
		}
	}
}

func TestRelay_SenderIdentityNotSpoofable(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	p2 := &fakePeer{}
	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{})
	g.Join(info.Code, RoleResponder, "client-2", "conn-2", p2)

	// A connection that never joined the room is identified by its
	// connection id, not by any clientId it might claim.
	if err := g.Relay(info.Code, "conn-stranger", "client-2", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	events := p2.Events()
	last := events[len(events)-1]
	if last.FromClientID != "conn-stranger" {
		t.Fatalf("FromClientID=%q, want conn-stranger", last.FromClientID)
	}
}

func TestRelay_Errors(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())

	if err := g.Relay("NOPE42", "conn-1", "client-2", nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Relay err=%v, want ErrRoomNotFound", err)
	}

	info, _ := g.CreateRoom()
	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{})
	if err := g.Relay(info.Code, "conn-1", "client-absent", nil); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("Relay err=%v, want ErrTargetNotFound", err)
	}
}

func TestRelay_DropCountedWhenPeerRejects(t *testing.T) {
	g := newTestRegistry(t, Config{}, newFakeClock())
	info, _ := g.CreateRoom()

	g.Join(info.Code, RoleInitiator, "client-1", "conn-1", &fakePeer{})
	g.Join(info.Code, RoleResponder, "client-2", "conn-2", &fakePeer{reject: true})

	if err := g.Relay(info.Code, "conn-1", "client-2", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Relay err=%v, want nil (delivery is best-effort)", err)
	}
	if got := g.Metrics().Get(MetricDeliveriesDropped); got != 1 {
		t.Fatalf("%s=%d, want 1", MetricDeliveriesDropped, got)
	}
}

func TestSweep_EvictsExpiredRooms(t *testing.T) {
	clk := newFakeClock()
	g := newTestRegistry(t, Config{RoomTTL: time.Minute}, clk)

	g.CreateRoom()
	g.CreateRoom()
	clk.Advance(30 * time.Second)
	kept, _ := g.CreateRoom()

	clk.Advance(45 * time.Second)
	g.sweep()

	if g.Len() != 1 {
		t.Fatalf("Len()=%d after sweep, want 1", g.Len())
	}
	if _, err := g.Status(kept.Code); err != nil {
		t.Fatalf("Status(%q)=%v, want unexpired room kept", kept.Code, err)
	}
	if got := g.Metrics().Get(MetricRoomsExpired); got != 2 {
		t.Fatalf("%s=%d, want 2", MetricRoomsExpired, got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	g := newTestRegistry(t, Config{SweepInterval: time.Millisecond}, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after context cancel")
	}
}

func TestCreateRoom_CapacityExceeded(t *testing.T) {
	// A one-character code space (31 codes) with enough live rooms to make
	// collisions certain once full.
	g := newTestRegistry(t, Config{CodeLength: 1, CodeAttempts: 8}, newFakeClock())

	var lastErr error
	for i := 0; i < len(codeAlphabet)+1; i++ {
		if _, err := g.CreateRoom(); err != nil {
			lastErr = err
			break
		}
	}
	if !errors.Is(lastErr, ErrCapacityExceeded) {
		t.Fatalf("CreateRoom err=%v, want ErrCapacityExceeded once the space fills", lastErr)
	}
}
