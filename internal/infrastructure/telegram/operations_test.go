package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/linkguard/internal/gateway"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "nil", err: nil},
		{name: "timeout", err: errors.New("Post \"https://api.telegram.org\": context deadline exceeded")},
		{name: "forbidden code", err: &api.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, permanent: true},
		{name: "chat not found", err: &api.Error{Code: 400, Message: "Bad Request: chat not found"}, permanent: true},
		{name: "deactivated", err: errors.New("Forbidden: user is deactivated"), permanent: true},
		{name: "kicked wrapped", err: fmt.Errorf("send: %w", errors.New("Forbidden: bot was kicked from the supergroup chat")), permanent: true},
		{name: "peer id", err: errors.New("Bad Request: PEER_ID_INVALID"), permanent: true},
		{name: "upgraded", err: errors.New("Bad Request: group chat was upgraded to a supergroup chat"), permanent: true},
		{name: "flood", err: &api.Error{Code: 429, Message: "Too Many Requests: retry after 5"}},
		{name: "message to delete", err: &api.Error{Code: 400, Message: "Bad Request: message to delete not found"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.err)
			if gateway.IsPermanent(got) != tt.permanent {
				t.Fatalf("expected permanent=%v for %v", tt.permanent, tt.err)
			}
			if tt.err != nil && !errors.Is(got, tt.err) {
				t.Fatalf("original error lost in %v", got)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	expected := map[string]gateway.MemberStatus{
		"creator":       gateway.StatusOwner,
		"administrator": gateway.StatusAdmin,
		"member":        gateway.StatusMember,
		"restricted":    gateway.StatusRestricted,
		"left":          gateway.StatusLeft,
		"kicked":        gateway.StatusKicked,
		"":              gateway.StatusUnknown,
	}
	for raw, status := range expected {
		if got := StatusOf(raw); got != status {
			t.Fatalf("%q: expected %s, got %s", raw, status, got)
		}
	}
}

func TestRetryAfterCapped(t *testing.T) {
	t.Parallel()

	wait, ok := retryAfter(&api.Error{Code: 429, ResponseParameters: api.ResponseParameters{RetryAfter: 600}})
	if !ok || wait != maxRetryAfter {
		t.Fatalf("expected capped wait, got %s %v", wait, ok)
	}
	if _, ok := retryAfter(&api.Error{Code: 400}); ok {
		t.Fatalf("400 must not be retried")
	}
	if _, ok := retryAfter(nil); ok {
		t.Fatalf("nil must not be retried")
	}
}

func TestCallRetriesFloodOnce(t *testing.T) {
	t.Parallel()

	o := NewOperations(nil, 0)
	calls := 0
	err := o.call(context.Background(), "send_text", true, func() error {
		calls++
		return &api.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: api.ResponseParameters{RetryAfter: 1}}
	})
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	if err == nil || gateway.IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCallHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOperations(nil, 10)
	called := false
	err := o.call(ctx, "send_text", true, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run on cancelled context")
	}
}

func TestCallWrapsPermanent(t *testing.T) {
	t.Parallel()

	o := NewOperations(nil, 0)
	start := time.Now()
	err := o.call(context.Background(), "send_text", false, func() error {
		return &api.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	})
	if !gateway.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("permanent errors must not be retried")
	}
}
