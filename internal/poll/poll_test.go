package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/logger"
	"github.com/sujalbistaa/pollwave/internal/notify"
	"github.com/sujalbistaa/pollwave/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Publish(_ context.Context, ev notify.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

type countingRecorder struct {
	mu       sync.Mutex
	accepted map[IdentityKind]int
	rejected map[apperr.Kind]int
	repairs  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{accepted: map[IdentityKind]int{}, rejected: map[apperr.Kind]int{}}
}

func (r *countingRecorder) VoteAccepted(k IdentityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted[k]++
}

func (r *countingRecorder) VoteRejected(k apperr.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[k]++
}

func (r *countingRecorder) AnalyticsRepaired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairs++
}

// fixture wires the three services over one test database with a fixed clock.
type fixture struct {
	db        *gorm.DB
	events    *eventLog
	rec       *countingRecorder
	analytics *Aggregator
	ledger    *Ledger
	manager   *Manager
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:     testutil.SetupTestDB(t),
		events: &eventLog{},
		rec:    newCountingRecorder(),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	log := logger.Discard()

	f.analytics = NewAggregator(f.db, f.events, f.rec, log)
	f.analytics.Now = clock
	f.ledger = NewLedger(f.db, AddressResolver{Salt: "salt"}, f.analytics, f.events, f.rec, log)
	f.ledger.Now = clock
	f.manager = NewManager(f.db, f.analytics, f.events, log)
	f.manager.Now = clock
	return f
}

func authed(profileID string) Caller {
	return Caller{ProfileID: profileID, UserAgent: "go-test"}
}

func anon(addr string) Caller {
	return Caller{OriginAddr: addr, UserAgent: "go-test"}
}
