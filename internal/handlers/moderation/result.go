package moderation

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxLastResults = 1000

type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeExempt
	OutcomeWarned
	OutcomeMuted
	OutcomePermanentlyMuted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExempt:
		return "exempt"
	case OutcomeWarned:
		return "warned"
	case OutcomeMuted:
		return "muted"
	case OutcomePermanentlyMuted:
		return "permanently_muted"
	default:
		return "clean"
	}
}

type Source string

const (
	SourceNone Source = ""
	SourceName Source = "name"
	SourceBio  Source = "bio"
	SourceText Source = "text"
)

// Actions records which best-effort side effects actually happened.
type Actions struct {
	RecipientsRecorded bool
	MessageDeleted     bool
	Restricted         bool
	GroupNotified      bool
	DirectNotified     bool
	RecipientRemoved   bool
	Error              error
}

type Result struct {
	Outcome   Outcome
	Source    Source
	ChatID    int64
	UserID    int64
	MessageID int
	// Warnings is the count shown to the member, never above threshold minus one.
	Warnings   int
	MutedUntil time.Time
	Matched    []string
	Actions    Actions
	HandledAt  time.Time
}

// Summary renders the result for administrators.
func (r Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("outcome=" + r.Outcome.String())
	if r.Source != SourceNone {
		sb.WriteString(" source=" + string(r.Source))
	}
	if len(r.Matched) > 0 {
		sb.WriteString(" matched=" + strings.Join(r.Matched, ","))
	}
	if r.Outcome == OutcomeWarned {
		sb.WriteString(" warnings=" + strconv.Itoa(r.Warnings))
	}
	if !r.MutedUntil.IsZero() {
		sb.WriteString(" until=" + r.MutedUntil.UTC().Format(time.RFC3339))
	}
	if r.Actions.MessageDeleted {
		sb.WriteString(" deleted")
	}
	if r.Actions.Restricted {
		sb.WriteString(" restricted")
	}
	if r.Actions.Error != nil {
		sb.WriteString(" error=" + r.Actions.Error.Error())
	}
	return sb.String()
}

type resultKey struct {
	chatID    int64
	messageID int
}

// resultLog keeps the most recent results, evicting the oldest first.
type resultLog struct {
	mu      sync.Mutex
	results map[resultKey]Result
	order   []resultKey
	limit   int
}

func newResultLog(limit int) *resultLog {
	return &resultLog{
		results: make(map[resultKey]Result),
		order:   make([]resultKey, 0, limit),
		limit:   limit,
	}
}

func (l *resultLog) put(res Result) {
	key := resultKey{chatID: res.ChatID, messageID: res.MessageID}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.results[key]; !ok {
		l.order = append(l.order, key)
	}
	l.results[key] = res
	if len(l.order) > l.limit {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.results, oldest)
	}
}

func (l *resultLog) get(chatID int64, messageID int) (Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.results[resultKey{chatID: chatID, messageID: messageID}]
	return res, ok
}

func (l *resultLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}
