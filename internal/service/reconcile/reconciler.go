package reconcile

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"storefront-service/internal/config"
	"storefront-service/internal/domain/auth"
	"storefront-service/internal/metrics"

	"go.uber.org/zap"
)

const defaultDisplayName = "User"

// State is a snapshot of a reconciler.
type State struct {
	AuthState         auth.AuthState `json:"auth_state"`
	Identity          *auth.Identity `json:"identity"`
	Role              auth.Role      `json:"role,omitempty"`
	RoleFetchAttempts int            `json:"role_fetch_attempts"`
	LastError         string         `json:"last_error,omitempty"`
}

// Reconciler mirrors one client's session, resolves its role and retries
// failed resolutions with capped exponential backoff.
//
// Every identity change bumps a generation counter. Retries and in-flight
// resolutions carry the generation they were started under and are dropped
// if it no longer matches.
type Reconciler struct {
	store    auth.IdentityStore
	resolver *RoleResolver
	retry    config.RetryConfig
	clock    Clock
	logger   *zap.Logger
	metrics  metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	generation  uint64
	inflight    bool
	pending     Timer
	eventSeen   bool
	closed      bool
	unsubscribe func()
	subs        map[int]chan State
	nextSub     int
}

func NewReconciler(
	store auth.IdentityStore,
	resolver *RoleResolver,
	retry config.RetryConfig,
	clock Clock,
	logger *zap.Logger,
	rec metrics.Recorder,
) *Reconciler {
	if clock == nil {
		clock = SystemClock()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:    store,
		resolver: resolver,
		retry:    retry,
		clock:    clock,
		logger:   logger,
		metrics:  rec,
		ctx:      ctx,
		cancel:   cancel,
		state:    State{AuthState: auth.StateInitializing},
		subs:     make(map[int]chan State),
	}
}

// Start performs the initial session check and subscribes to session
// changes. A failed check leaves the reconciler in the error state until
// Reinitialize is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("reconciler closed")
	}
	r.eventSeen = false
	r.mu.Unlock()

	unsubscribe := r.store.OnSessionChange(func(kind auth.SessionEventKind, s *auth.Session) {
		r.mu.Lock()
		r.eventSeen = true
		r.mu.Unlock()
		r.logger.Debug("session event", zap.String("kind", string(kind)))
		r.OnSessionChanged(s)
	})

	sess, err := r.store.GetSession(ctx)
	if err != nil {
		unsubscribe()
		r.mu.Lock()
		r.state.AuthState = auth.StateError
		r.state.LastError = fmt.Sprintf("failed to check session: %v", err)
		r.publishLocked()
		r.mu.Unlock()
		r.logger.Error("initial session check failed", zap.Error(err))
		return fmt.Errorf("failed to check session: %w", err)
	}

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	// A live event already carries newer information than the initial read.
	skip := r.eventSeen
	r.mu.Unlock()

	if !skip {
		r.OnSessionChanged(sess)
	}
	return nil
}

// Reinitialize retries the initial session check after a failure. It is a
// no-op in any other state.
func (r *Reconciler) Reinitialize(ctx context.Context) error {
	r.mu.Lock()
	if r.state.AuthState != auth.StateError {
		r.mu.Unlock()
		return nil
	}
	r.state.AuthState = auth.StateInitializing
	r.publishLocked()
	r.mu.Unlock()

	return r.Start(ctx)
}

// OnSessionChanged applies a session transition. A nil session, or one
// without an identity, signs the client out. Redelivering the current
// session changes nothing.
func (r *Reconciler) OnSessionChanged(session *auth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if session == nil || session.Identity == nil {
		if r.state.AuthState == auth.StateUnauthenticated && r.state.Identity == nil {
			return
		}
		r.generation++
		r.stopPendingLocked()
		r.inflight = false
		r.state = State{AuthState: auth.StateUnauthenticated}
		r.publishLocked()
		return
	}

	identity := withDisplayName(session.Identity)

	if r.state.AuthState == auth.StateAuthenticated && r.state.Identity != nil && r.state.Identity.ID == identity.ID {
		if !reflect.DeepEqual(r.state.Identity, identity) {
			r.state.Identity = identity
			r.publishLocked()
		}
		return
	}

	r.generation++
	r.stopPendingLocked()
	r.state = State{
		AuthState: auth.StateAuthenticated,
		Identity:  identity,
	}
	r.publishLocked()

	r.inflight = true
	go r.attempt(r.generation, identity.ID)
}

// ResolveRole resolves the role of userID on demand. The result, or the
// failure, is stored only when userID is the signed-in identity. Manual
// calls do not count against the automatic retry budget.
func (r *Reconciler) ResolveRole(ctx context.Context, userID string) (auth.Role, bool) {
	role, err := r.resolver.Resolve(ctx, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.state.AuthState == auth.StateAuthenticated && r.state.Identity != nil && r.state.Identity.ID == userID

	if err != nil {
		if current {
			r.state.LastError = err.Error()
			r.publishLocked()
		}
		return "", false
	}

	if current {
		r.stopPendingLocked()
		r.state.Role = role
		r.state.RoleFetchAttempts = 0
		r.publishLocked()
	}
	return role, true
}

// ClearErrors resets the last error.
func (r *Reconciler) ClearErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.LastError == "" {
		return
	}
	r.state.LastError = ""
	r.publishLocked()
}

// State returns a snapshot of the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe streams state snapshots, starting with the current one. Slow
// readers only see the latest snapshot.
func (r *Reconciler) Subscribe() (<-chan State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan State, 8)
	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Close stops pending retries, unsubscribes from the identity store and
// closes every subscriber channel.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.generation++
	r.stopPendingLocked()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()

	r.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// attempt runs one automatic resolution for generation gen.
func (r *Reconciler) attempt(gen uint64, userID string) {
	role, err := r.resolver.Resolve(r.ctx, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || gen != r.generation {
		return
	}
	r.inflight = false

	if err == nil {
		r.state.Role = role
		r.state.RoleFetchAttempts = 0
		r.publishLocked()
		return
	}

	r.state.RoleFetchAttempts++
	r.state.LastError = err.Error()

	if r.state.AuthState == auth.StateAuthenticated && r.state.Role == "" && r.state.RoleFetchAttempts < r.retry.MaxAttempts {
		delay := r.backoff(r.state.RoleFetchAttempts)
		r.metrics.RecordRoleRetry()
		r.logger.Warn("role resolution failed, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", r.state.RoleFetchAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		r.pending = r.clock.AfterFunc(delay, func() { r.retryFired(gen, userID) })
	} else {
		r.logger.Error("role resolution gave up",
			zap.String("user_id", userID),
			zap.Int("attempts", r.state.RoleFetchAttempts),
			zap.Error(err))
	}
	r.publishLocked()
}

func (r *Reconciler) retryFired(gen uint64, userID string) {
	r.mu.Lock()
	if r.closed || gen != r.generation || r.state.Role != "" || r.inflight {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.inflight = true
	r.mu.Unlock()

	r.attempt(gen, userID)
}

// backoff returns the delay before the retry following failure n (1-based):
// BaseDelay doubled n-1 times, capped at MaxDelay.
func (r *Reconciler) backoff(n int) time.Duration {
	d := r.retry.BaseDelay
	for i := 1; i < n && d < r.retry.MaxDelay; i++ {
		d *= 2
	}
	if d > r.retry.MaxDelay {
		d = r.retry.MaxDelay
	}
	return d
}

func (r *Reconciler) stopPendingLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *Reconciler) publishLocked() {
	snapshot := r.state
	for _, ch := range r.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func withDisplayName(in *auth.Identity) *auth.Identity {
	out := *in
	out.DisplayName = DisplayName(in)
	return &out
}

// DisplayName picks the first non-blank of name, full_name,
// preferred_username and the email local part, then "User".
func DisplayName(identity *auth.Identity) string {
	for _, key := range []string{auth.MetaName, auth.MetaFullName, auth.MetaPreferredUsername} {
		if v, ok := identity.MetaString(key); ok {
			return v
		}
	}
	if local, _, _ := strings.Cut(identity.Email, "@"); strings.TrimSpace(local) != "" {
		return local
	}
	return defaultDisplayName
}
