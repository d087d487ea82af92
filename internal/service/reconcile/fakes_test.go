package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"storefront-service/internal/domain/auth"
)

var errBoom = errors.New("connection reset by peer")

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due callbacks on the caller's goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*manualTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(c.now) {
				due = append(due, t)
			}
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, t := range due {
			t.fired = true
		}
		c.mu.Unlock()

		if len(due) == 0 {
			return
		}
		for _, t := range due {
			t.f()
		}
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeIdentityStore delivers session events synchronously.
type fakeIdentityStore struct {
	mu       sync.Mutex
	session  *auth.Session
	getErr   error
	handlers map[int]func(auth.SessionEventKind, *auth.Session)
	next     int
}

func newFakeIdentityStore(session *auth.Session) *fakeIdentityStore {
	return &fakeIdentityStore{
		session:  session,
		handlers: make(map[int]func(auth.SessionEventKind, *auth.Session)),
	}
}

func (s *fakeIdentityStore) GetSession(context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.session, nil
}

func (s *fakeIdentityStore) OnSessionChange(h func(auth.SessionEventKind, *auth.Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeIdentityStore) emit(kind auth.SessionEventKind, session *auth.Session) {
	s.mu.Lock()
	s.session = session
	hs := make([]func(auth.SessionEventKind, *auth.Session), 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(kind, session)
	}
}

func (s *fakeIdentityStore) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// flakyRoles injects failures in front of a real repository.
type flakyRoles struct {
	auth.RoleRepository

	mu           sync.Mutex
	findFailures int // remaining failing FindByUserID calls, -1 for always
	insertErr    error
	updateErr    error
	deleteErr    error
	findCalls    map[string]int
	inserts      int32
}

func newFlakyRoles(inner auth.RoleRepository) *flakyRoles {
	return &flakyRoles{RoleRepository: inner, findCalls: make(map[string]int)}
}

func (f *flakyRoles) FindByUserID(ctx context.Context, userID string) ([]*auth.RoleRecord, error) {
	f.mu.Lock()
	f.findCalls[userID]++
	fail := f.findFailures != 0
	if f.findFailures > 0 {
		f.findFailures--
	}
	f.mu.Unlock()

	if fail {
		return nil, errBoom
	}
	return f.RoleRepository.FindByUserID(ctx, userID)
}

func (f *flakyRoles) InsertIfAbsent(ctx context.Context, rec *auth.RoleRecord) (*auth.RoleRecord, error) {
	atomic.AddInt32(&f.inserts, 1)
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.RoleRepository.InsertIfAbsent(ctx, rec)
}

func (f *flakyRoles) UpdateRole(ctx context.Context, userID string, role auth.Role) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.RoleRepository.UpdateRole(ctx, userID, role)
}

func (f *flakyRoles) DeleteByUserID(ctx context.Context, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.RoleRepository.DeleteByUserID(ctx, userID)
}

func (f *flakyRoles) calls(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls[userID]
}

func (f *flakyRoles) setFindFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findFailures = n
}

type flakyProfiles struct {
	auth.ProfileRepository
	upsertErr error
}

func (f *flakyProfiles) Upsert(ctx context.Context, p *auth.ProfileRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.ProfileRepository.Upsert(ctx, p)
}

type flakyProcedure struct {
	auth.RepairProcedure
	err   error
	calls int
}

func (f *flakyProcedure) RepairUserEntries(ctx context.Context, userID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.RepairProcedure.RepairUserEntries(ctx, userID)
}
