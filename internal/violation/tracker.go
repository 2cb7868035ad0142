// Package violation counts per-member warnings and decides when they escalate into a mute.
package violation

import "sync"

type Scope int

const (
	// ScopeChat keeps a separate counter for every (chat, user) pair.
	ScopeChat Scope = iota
	// ScopeGlobal shares one counter per user across all chats.
	ScopeGlobal
)

const DefaultThreshold = 4

type Verdict struct {
	// Count is the post-increment warning count. It equals the threshold on escalation.
	Count    int
	Escalate bool
}

type key struct {
	chatID int64
	userID int64
}

// Tracker is safe for concurrent use. Counters live in memory only.
type Tracker struct {
	threshold int
	scope     Scope

	mu     sync.Mutex
	counts map[key]int
}

func NewTracker(threshold int, scope Scope) *Tracker {
	if threshold < 2 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		threshold: threshold,
		scope:     scope,
		counts:    make(map[key]int),
	}
}

func (t *Tracker) key(chatID, userID int64) key {
	if t.scope == ScopeGlobal {
		return key{userID: userID}
	}
	return key{chatID: chatID, userID: userID}
}

// Record registers one more violation. Reaching the threshold returns an escalating verdict and
// resets the counter in the same critical section.
func (t *Tracker) Record(chatID, userID int64) Verdict {
	k := t.key(chatID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.counts[k] + 1
	if n >= t.threshold {
		delete(t.counts, k)
		return Verdict{Count: n, Escalate: true}
	}
	t.counts[k] = n
	return Verdict{Count: n}
}

func (t *Tracker) Count(chatID, userID int64) int {
	k := t.key(chatID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[k]
}

func (t *Tracker) Reset(chatID, userID int64) {
	k := t.key(chatID, userID)

	t.mu.Lock()
	delete(t.counts, k)
	t.mu.Unlock()
}

// Len returns the number of members currently holding at least one warning.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func (t *Tracker) Threshold() int {
	return t.threshold
}

// MaxVisibleWarnings is the highest warning number members ever see, threshold minus one.
func (t *Tracker) MaxVisibleWarnings() int {
	return t.threshold - 1
}
