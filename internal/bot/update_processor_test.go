package bot

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type recordingHandler struct {
	name    string
	proceed bool
	err     error
	calls   *[]string
}

func (h *recordingHandler) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	_ = ctx
	_ = u
	_ = chat
	_ = user
	*h.calls = append(*h.calls, h.name)
	return h.proceed, h.err
}

func messageUpdate(at time.Time) *api.Update {
	return &api.Update{
		Message: &api.Message{
			MessageID: 1,
			Date:      int(at.Unix()),
			From:      &api.User{ID: 7, FirstName: "Ann"},
			Text:      "hello",
		},
	}
}

func TestUpdateProcessorRunsHandlersInOrder(t *testing.T) {
	calls := make([]string, 0, 3)
	RegisterUpdateHandler("test-order-first", &recordingHandler{name: "first", proceed: true, calls: &calls})
	RegisterUpdateHandler("test-order-second", &recordingHandler{name: "second", proceed: false, calls: &calls})
	RegisterUpdateHandler("test-order-third", &recordingHandler{name: "third", proceed: true, calls: &calls})

	up := NewUpdateProcessor(nil, []string{"test-order-first", "missing", "test-order-second", "test-order-third"})
	if err := up.Process(context.Background(), messageUpdate(time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}

	expected := []string{"first", "second"}
	if !reflect.DeepEqual(calls, expected) {
		t.Fatalf("unexpected calls: got %v want %v", calls, expected)
	}
}

func TestUpdateProcessorSkipsOutdatedUpdates(t *testing.T) {
	calls := make([]string, 0, 1)
	RegisterUpdateHandler("test-stale", &recordingHandler{name: "stale", proceed: true, calls: &calls})

	up := NewUpdateProcessor(nil, []string{"test-stale"})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	up.now = func() time.Time { return now }

	if err := up.Process(context.Background(), messageUpdate(now.Add(-UpdateTimeout-time.Second))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("outdated update must be skipped, got %v", calls)
	}

	if err := up.Process(context.Background(), messageUpdate(now.Add(-time.Minute))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("fresh update must be handled, got %v", calls)
	}
}

func TestUpdateProcessorWrapsHandlerError(t *testing.T) {
	calls := make([]string, 0, 1)
	cause := errors.New("boom")
	RegisterUpdateHandler("test-error", &recordingHandler{name: "err", err: cause, calls: &calls})

	up := NewUpdateProcessor(nil, []string{"test-error"})
	err := up.Process(context.Background(), messageUpdate(time.Now()))
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestUpdateProcessorRejectsNilAndCancelled(t *testing.T) {
	t.Parallel()

	up := NewUpdateProcessor(nil, nil)
	if err := up.Process(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil update")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := up.Process(ctx, messageUpdate(time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		user     *api.User
		fullName string
		un       string
	}{
		{name: "nil", user: nil},
		{name: "full", user: &api.User{FirstName: "Ann", LastName: "Lee", UserName: "ann"}, fullName: "Ann Lee", un: "ann"},
		{name: "no username", user: &api.User{FirstName: "Bob"}, fullName: "Bob", un: "Bob"},
		{name: "username only", user: &api.User{UserName: "ghost"}, fullName: "ghost", un: "ghost"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := GetFullName(tt.user); got != tt.fullName {
				t.Fatalf("full name: got %q want %q", got, tt.fullName)
			}
			if got := GetUN(tt.user); got != tt.un {
				t.Fatalf("username: got %q want %q", got, tt.un)
			}
		})
	}
}

func TestMessageContentAndGroupDetection(t *testing.T) {
	t.Parallel()

	if got := MessageContent(&api.Message{Caption: " see www.x.io "}); got != "see www.x.io" {
		t.Fatalf("unexpected content %q", got)
	}
	if MessageContent(nil) != "" {
		t.Fatalf("nil message must have empty content")
	}
	if !IsGroup(&api.Chat{Type: "supergroup"}) || !IsGroup(&api.Chat{Type: "group"}) {
		t.Fatalf("groups not detected")
	}
	if IsGroup(&api.Chat{Type: "private"}) || IsGroup(nil) {
		t.Fatalf("private chat detected as group")
	}
}
