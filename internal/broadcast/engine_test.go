package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/linkguard/internal/db"
	"github.com/iamwavecut/linkguard/internal/gateway"
)

const operatorID = int64(1001)

type storeStub struct {
	mu      sync.Mutex
	items   map[db.RecipientKind]map[int64]struct{}
	listErr error
}

func newStoreStub(groups, users []int64) *storeStub {
	s := &storeStub{items: map[db.RecipientKind]map[int64]struct{}{
		db.KindGroup: {},
		db.KindUser:  {},
	}}
	for _, id := range groups {
		s.items[db.KindGroup][id] = struct{}{}
	}
	for _, id := range users {
		s.items[db.KindUser][id] = struct{}{}
	}
	return s
}

func (s *storeStub) ListRecipients(_ context.Context, kind db.RecipientKind) ([]db.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]db.Recipient, 0, len(s.items[kind]))
	for id := range s.items[kind] {
		out = append(out, db.Recipient{ID: id, Kind: kind})
	}
	return out, nil
}

func (s *storeStub) RemoveRecipient(_ context.Context, r db.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[r.Kind], r.ID)
	return nil
}

func (s *storeStub) ids(kind db.RecipientKind) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.items[kind]))
	for id := range s.items[kind] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type gatewayStub struct {
	mu       sync.Mutex
	failures map[int64]error
	panics   map[int64]bool
	pinErr   error
	sent     []int64
	media    []gateway.Media
	pinned   []gateway.MessageRef
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{failures: make(map[int64]error), panics: make(map[int64]bool)}
}

func (g *gatewayStub) MemberStatus(context.Context, int64, int64) (gateway.MemberStatus, error) {
	return gateway.StatusMember, nil
}

func (g *gatewayStub) ProfileBio(context.Context, int64) (string, error) { return "", nil }

func (g *gatewayStub) DeleteMessage(context.Context, int64, int) error { return nil }

func (g *gatewayStub) Restrict(context.Context, int64, int64, time.Time) error { return nil }

func (g *gatewayStub) SendText(_ context.Context, chatID int64, _ string) (gateway.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panics[chatID] {
		panic("boom")
	}
	if err := g.failures[chatID]; err != nil {
		return gateway.MessageRef{}, err
	}
	g.sent = append(g.sent, chatID)
	return gateway.MessageRef{ChatID: chatID, MessageID: 1}, nil
}

func (g *gatewayStub) SendMedia(ctx context.Context, chatID int64, media gateway.Media, caption string) (gateway.MessageRef, error) {
	g.mu.Lock()
	g.media = append(g.media, media)
	g.mu.Unlock()
	return g.SendText(ctx, chatID, caption)
}

func (g *gatewayStub) PinMessage(_ context.Context, ref gateway.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pinErr != nil {
		return g.pinErr
	}
	g.pinned = append(g.pinned, ref)
	return nil
}

func groupIDs(n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, -int64(i))
	}
	return ids
}

func TestBroadcastPrunesFailedGroups(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(10), nil)
	gw := newGatewayStub()
	for _, id := range []int64{-2, -5, -9} {
		gw.failures[id] = fmt.Errorf("send: %w", gateway.ErrPermanent)
	}

	e := NewEngine(gw, store, operatorID, Options{Workers: 3})
	report, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if report.GroupsSent != 7 || report.GroupsFailed != 3 {
		t.Fatalf("unexpected tallies: %+v", report)
	}
	if report.Pruned != 3 || report.ID == "" {
		t.Fatalf("unexpected report: %+v", report)
	}

	remaining := store.ids(db.KindGroup)
	expected := []int64{-10, -8, -7, -6, -4, -3, -1}
	if fmt.Sprint(remaining) != fmt.Sprint(expected) {
		t.Fatalf("unexpected remaining groups: got %v want %v", remaining, expected)
	}
}

func TestBroadcastKeepsTransientFailuresByDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		prune     bool
		remaining int
	}{
		{name: "keep", prune: false, remaining: 3},
		{name: "prune transient", prune: true, remaining: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newStoreStub(groupIDs(3), nil)
			gw := newGatewayStub()
			gw.failures[-1] = errors.New("timeout")

			e := NewEngine(gw, store, operatorID, Options{PruneTransient: tt.prune})
			report, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{})
			if err != nil {
				t.Fatalf("broadcast: %v", err)
			}
			if report.GroupsFailed != 1 {
				t.Fatalf("expected one failure, got %+v", report)
			}
			if got := len(store.ids(db.KindGroup)); got != tt.remaining {
				t.Fatalf("expected %d remaining, got %d", tt.remaining, got)
			}
		})
	}
}

func TestBroadcastRejectsEveryoneButOperator(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(2), []int64{7})
	gw := newGatewayStub()
	e := NewEngine(gw, store, operatorID, Options{})

	report, err := e.Broadcast(context.Background(), 7, TextPayload("hello"), Policy{IncludeUsers: true, Pin: true})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if report != (Report{}) || len(gw.sent) != 0 {
		t.Fatalf("unauthorized call had side effects")
	}

	if NewEngine(gw, store, 0, Options{}).Authorized(0) {
		t.Fatalf("unset operator must not authorize anyone")
	}
}

func TestBroadcastUsersOnlyWhenRequested(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(2), []int64{7, 8, 9})
	gw := newGatewayStub()
	e := NewEngine(gw, store, operatorID, Options{})

	report, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{Pin: true})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if report.UsersSent != 0 || len(gw.sent) != 2 {
		t.Fatalf("users must not receive group-only broadcast: %+v", report)
	}

	report, err = e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{IncludeUsers: true, Pin: true})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if report.GroupsSent != 2 || report.UsersSent != 3 {
		t.Fatalf("unexpected tallies: %+v", report)
	}
	for _, ref := range gw.pinned {
		if ref.ChatID > 0 {
			t.Fatalf("user message %d was pinned", ref.ChatID)
		}
	}
	if len(gw.pinned) != 4 {
		t.Fatalf("expected 4 pins over both runs, got %d", len(gw.pinned))
	}
}

func TestBroadcastPinFailuresAreNotDeliveryFailures(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(4), nil)
	gw := newGatewayStub()
	gw.pinErr = errors.New("not enough rights to pin a message")
	e := NewEngine(gw, store, operatorID, Options{})

	report, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{Pin: true})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if report.GroupsSent != 4 || report.GroupsFailed != 0 || report.PinsFailed != 4 {
		t.Fatalf("unexpected tallies: %+v", report)
	}
	if len(store.ids(db.KindGroup)) != 4 {
		t.Fatalf("pin failures must not prune")
	}
}

func TestBroadcastRecoversPanickingDelivery(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(3), nil)
	gw := newGatewayStub()
	gw.panics[-2] = true
	e := NewEngine(gw, store, operatorID, Options{})

	report, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if report.GroupsSent != 2 || report.GroupsFailed != 1 {
		t.Fatalf("unexpected tallies: %+v", report)
	}
}

func TestBroadcastMediaAndEmptyPayload(t *testing.T) {
	t.Parallel()

	store := newStoreStub(groupIDs(1), nil)
	gw := newGatewayStub()
	e := NewEngine(gw, store, operatorID, Options{})

	p := Payload{Media: &gateway.Media{Kind: gateway.MediaPhoto, FileID: "AgAD"}, Caption: "news"}
	if _, err := e.Broadcast(context.Background(), operatorID, p, Policy{}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(gw.media) != 1 || gw.media[0].Kind != gateway.MediaPhoto {
		t.Fatalf("media not delivered: %+v", gw.media)
	}

	if _, err := e.Broadcast(context.Background(), operatorID, TextPayload("   "), Policy{}); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestBroadcastStoreFailure(t *testing.T) {
	t.Parallel()

	store := newStoreStub(nil, nil)
	store.listErr = errors.New("database is locked")
	e := NewEngine(newGatewayStub(), store, operatorID, Options{})

	if _, err := e.Broadcast(context.Background(), operatorID, TextPayload("hello"), Policy{}); err == nil {
		t.Fatalf("expected error")
	}
}
