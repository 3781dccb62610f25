// Package poller detects upstream changes for every user of an integration
// and forwards them to the trigger notifier.
//
// One timer drives ticks. Each tick lists the users holding a credential and
// polls each of them concurrently. Per user, the cycle is:
//
//	Idle -> Polling -> Idle
//	             \-> Reinitializing -> Idle   (cursor rejected upstream)
//
// A user whose previous poll is still in flight is skipped, never queued.
// The cursor only moves past changes that were delivered or deliberately
// dropped (self-authored, filtered), so delivery is at-least-once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tombee/areahub/internal/credential"
	"github.com/tombee/areahub/internal/notifier"
	"github.com/tombee/areahub/internal/platform"
)

// State is a user's position in the poll cycle.
type State string

const (
	StateIdle           State = "idle"
	StatePolling        State = "polling"
	StateReinitializing State = "reinitializing"

	// StateDisconnected is Idle after repeated token failures. The user is
	// still polled and returns to Idle on the next successful token fetch.
	StateDisconnected State = "disconnected"
)

// ErrInFlight is returned by PollUser when the user's previous poll has not
// finished.
var ErrInFlight = errors.New("poll already in flight")

const (
	DefaultInterval            = 5 * time.Second
	DefaultPollTimeout         = 30 * time.Second
	DefaultDisconnectThreshold = 5
)

// TokenSource supplies valid access tokens. Implemented by credential.Manager.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, userID, integration string) (string, error)
}

// Config configures a Service.
type Config struct {
	// Adapter is the polled integration. It must implement
	// platform.ChangeSource (required)
	Adapter platform.Adapter

	// Tokens supplies access tokens (required)
	Tokens TokenSource

	// Store holds cursors and enumerates users (required)
	Store credential.Store

	// Notifier receives detected changes (required)
	Notifier notifier.Notifier

	// Interval between ticks (default: 5s)
	Interval time.Duration

	// PollTimeout bounds one user's poll cycle (default: 30s)
	PollTimeout time.Duration

	// MaxConcurrency caps concurrent user polls. Zero means unbounded.
	MaxConcurrency int

	// DisconnectThreshold is the number of consecutive token failures after
	// which a user is reported disconnected (default: 5)
	DisconnectThreshold int

	// Filter is an optional expression a change must satisfy to be
	// forwarded. See Filter.
	Filter string

	// RateLimit caps upstream fetches per second across all users. Zero
	// means unlimited.
	RateLimit float64

	// Logger for poll events (default: slog.Default())
	Logger *slog.Logger

	// MeterProvider for poller metrics. Nil disables metrics.
	MeterProvider metric.MeterProvider

	// OnDisconnected is called once when a user crosses DisconnectThreshold.
	OnDisconnected func(userID string, err error)
}

type userState struct {
	state         State
	tokenFailures int
	disconnected  bool
	identity      string
}

// Service polls one integration for all of its users.
type Service struct {
	cfg         Config
	integration string
	eventName   string
	source      platform.ChangeSource
	compare     func(a, b string) int
	identity    platform.IdentityProvider
	filter      *Filter
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	metrics     *MetricsCollector
	logger      *slog.Logger
	scheduler   *Scheduler

	mu      sync.Mutex
	users   map[string]*userState
	started bool

	// ctx parents scheduled ticks. It is cancelled only by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService validates cfg and creates a stopped service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("adapter is required")
	}
	source, ok := cfg.Adapter.(platform.ChangeSource)
	if !ok {
		return nil, fmt.Errorf("integration %s does not support change polling", cfg.Adapter.Name())
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.DisconnectThreshold <= 0 {
		cfg.DisconnectThreshold = DefaultDisconnectThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	filter, err := CompileFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	integration := cfg.Adapter.Name()
	eventName := integration + ".change"
	if namer, ok := cfg.Adapter.(platform.EventNamer); ok {
		eventName = namer.EventName()
	}

	logger := cfg.Logger.With(
		slog.String("component", "poller"),
		slog.String("integration", integration))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:         cfg,
		integration: integration,
		eventName:   eventName,
		source:      source,
		compare:     platform.MarkerOrder(cfg.Adapter),
		filter:      filter,
		logger:      logger,
		users:       make(map[string]*userState),
		ctx:         ctx,
		cancel:      cancel,
	}
	if idp, ok := cfg.Adapter.(platform.IdentityProvider); ok {
		s.identity = idp
	}
	if cfg.MaxConcurrency > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if cfg.MeterProvider != nil {
		metrics, err := NewMetricsCollector(cfg.MeterProvider, integration, s.disconnectedCount)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		s.metrics = metrics
	}
	s.scheduler = NewScheduler(cfg.Interval, s.onTick)
	return s, nil
}

// Integration returns the polled integration's name.
func (s *Service) Integration() string {
	return s.integration
}

// Start begins ticking every Interval until Stop or until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("poller already started")
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.logger.Info("poller started", slog.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts the timer and waits for in-flight polls to finish. If ctx
// expires first, in-flight polls are cancelled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("poller stopped")
	case <-ctx.Done():
		s.logger.Warn("poller shutdown timed out, cancelling in-flight polls")
		err = ctx.Err()
	}
	s.cancel()

	// Users still polling keep their entry so the in-flight flag holds
	// until their poll returns.
	s.mu.Lock()
	for id, st := range s.users {
		if st.state != StatePolling && st.state != StateReinitializing {
			delete(s.users, id)
		}
	}
	s.mu.Unlock()
	return err
}

func (s *Service) onTick(context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Tick(s.ctx)
	}()
}

// Tick runs one poll cycle for every user holding a credential and waits
// for all of them. The returned error joins per-user failures; one user's
// failure never stops the others.
func (s *Service) Tick(ctx context.Context) error {
	users, err := s.cfg.Store.ListUsers(ctx, s.integration)
	if err != nil {
		s.metrics.RecordError(ctx, s.integration, "list_users")
		s.logger.Error("failed to list users", slog.Any("error", err))
		return fmt.Errorf("failed to list users: %w", err)
	}
	s.prune(users)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, userID := range users {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				break
			}
		}
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			if err := s.PollUser(ctx, userID); err != nil && !errors.Is(err, ErrInFlight) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				mu.Unlock()
			}
		}(userID)
	}
	wg.Wait()

	if len(errs) > 0 {
		s.logger.Warn("poll tick completed with failures",
			slog.Int("users", len(users)),
			slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

// PollUser runs one poll cycle for userID. It returns ErrInFlight without
// doing anything if a cycle for the user is already running.
func (s *Service) PollUser(ctx context.Context, userID string) (err error) {
	if !s.begin(userID) {
		s.logger.Debug("previous poll still in flight, skipping", slog.String("user_id", userID))
		return ErrInFlight
	}
	defer s.finish(userID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
			s.logger.Error("poll panicked", slog.String("user_id", userID), slog.Any("panic", r))
		}
	}()

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	err = s.poll(pollCtx, userID)
	s.metrics.RecordPoll(ctx, s.integration, err == nil, time.Since(start))
	if err != nil {
		kind := string(platform.KindOf(err))
		if kind == "" {
			kind = "internal"
		}
		s.metrics.RecordError(ctx, s.integration, kind)
		s.logger.Warn("poll failed",
			slog.String("user_id", userID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
	return err
}

// States returns a snapshot of the per-user states.
func (s *Service) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.users))
	for id, st := range s.users {
		out[id] = st.state
	}
	return out
}

func (s *Service) poll(ctx context.Context, userID string) error {
	token, err := s.cfg.Tokens.ValidAccessToken(ctx, userID, s.integration)
	if err != nil {
		s.tokenFailed(userID, err)
		return err
	}
	s.tokenSucceeded(userID)

	cred, err := s.cfg.Store.Get(ctx, userID, s.integration)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if cred == nil {
		return nil
	}
	if cred.Cursor == "" {
		return s.bootstrap(ctx, userID, token)
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	changes, err := s.source.FetchChangesSince(ctx, token, cred.Cursor)
	if errors.Is(err, platform.ErrCursorInvalidated) {
		return s.reinitialize(ctx, userID, token, cred.Cursor)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch changes: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}

	self := s.selfIdentity(ctx, userID, token)
	next, forwardErr := s.forward(ctx, userID, cred.Cursor, changes, self)
	if next != cred.Cursor {
		if err := s.storeCursor(ctx, userID, next); err != nil {
			return err
		}
	}
	return forwardErr
}

// bootstrap stores the platform's current marker without scanning history.
func (s *Service) bootstrap(ctx context.Context, userID, token string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	marker, err := s.source.FetchCurrentMarker(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to fetch current marker: %w", err)
	}
	if marker == "" {
		return platform.NewError(platform.KindUpstream, "platform returned an empty marker")
	}
	if err := s.storeCursor(ctx, userID, marker); err != nil {
		return err
	}
	s.logger.Info("cursor initialized",
		slog.String("user_id", userID),
		slog.String("marker", marker))
	return nil
}

// reinitialize discards a cursor the platform no longer recognizes and
// starts again from the current marker. Changes between the stale and fresh
// markers are lost.
func (s *Service) reinitialize(ctx context.Context, userID, token, stale string) error {
	s.setState(userID, StateReinitializing)
	s.metrics.RecordError(ctx, s.integration, string(platform.KindCursorInvalidated))
	s.logger.Warn("cursor invalidated upstream, reinitializing",
		slog.String("user_id", userID),
		slog.String("marker", stale))

	if err := s.storeCursor(ctx, userID, ""); err != nil {
		return err
	}
	return s.bootstrap(ctx, userID, token)
}

// forward delivers changes in marker order and returns the cursor to
// persist. Every change the source returned is attempted; the source owns
// the "strictly after cursor" contract. The cursor advances over a marker
// only when every change at or before it was delivered or dropped, and
// never moves backwards; a failed change pins it so the change is fetched
// again next tick.
func (s *Service) forward(ctx context.Context, userID, cursor string, changes []platform.Change, self string) (string, error) {
	sorted := make([]platform.Change, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.compare(sorted[i].Marker, sorted[j].Marker) < 0
	})

	next := cursor
	blocked := false
	var delivered, dropped int
	var errs []error
	for i, ch := range sorted {
		sent, err := s.handle(ctx, userID, ch, self)
		if err != nil {
			blocked = true
			errs = append(errs, err)
			continue
		}
		if sent {
			delivered++
		} else {
			dropped++
		}

		if blocked || ch.Marker == "" {
			continue
		}
		if i+1 < len(sorted) && s.compare(sorted[i+1].Marker, ch.Marker) == 0 {
			continue
		}
		if next == "" || s.compare(ch.Marker, next) > 0 {
			next = ch.Marker
		}
	}

	s.metrics.RecordEvents(ctx, s.integration, outcomeDelivered, delivered)
	s.metrics.RecordEvents(ctx, s.integration, outcomeFiltered, dropped)
	s.metrics.RecordEvents(ctx, s.integration, outcomeFailed, len(errs))
	if delivered > 0 {
		s.logger.Info("changes forwarded",
			slog.String("user_id", userID),
			slog.Int("delivered", delivered),
			slog.String("marker", next))
	}

	if len(errs) > 0 {
		return next, fmt.Errorf("%d of %d changes not delivered: %w", len(errs), len(sorted), errors.Join(errs...))
	}
	return next, nil
}

// handle forwards one change. It reports false with a nil error when the
// change is deliberately dropped.
func (s *Service) handle(ctx context.Context, userID string, ch platform.Change, self string) (bool, error) {
	if IsSelfAuthored(ch.AuthorHint, self, ch.Sentinel) {
		s.logger.Debug("skipping self-authored change",
			slog.String("user_id", userID),
			slog.String("marker", ch.Marker))
		return false, nil
	}

	ok, err := s.filter.Match(userID, ch)
	if err != nil {
		s.logger.Warn("filter evaluation failed, forwarding change",
			slog.String("user_id", userID),
			slog.String("marker", ch.Marker),
			slog.Any("error", err))
		ok = true
	}
	if !ok {
		return false, nil
	}

	event := notifier.NewChangeEvent(s.eventName, s.integration, userID, ch.Marker, ch.Payload)
	if err := s.cfg.Notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("failed to forward change",
			slog.String("user_id", userID),
			slog.String("marker", ch.Marker),
			slog.Any("error", err))
		return false, err
	}
	return true, nil
}

func (s *Service) storeCursor(ctx context.Context, userID, marker string) error {
	_, err := s.cfg.Store.Upsert(ctx, userID, s.integration, credential.CursorPatch(marker))
	if errors.Is(err, credential.ErrNotFound) {
		s.logger.Debug("credential removed during poll, cursor dropped", slog.String("user_id", userID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist cursor: %w", err)
	}
	return nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return platform.Wrap(platform.KindTransport, err, "rate limit wait aborted")
	}
	return nil
}

// selfIdentity returns the account identity used for self-authored
// filtering, cached per user. Lookup failures fall back to sentinel-only
// filtering.
func (s *Service) selfIdentity(ctx context.Context, userID, token string) string {
	if s.identity == nil {
		return ""
	}
	s.mu.Lock()
	cached := s.stateLocked(userID).identity
	s.mu.Unlock()
	if cached != "" {
		return cached
	}

	id, err := s.identity.SelfIdentity(ctx, token)
	if err != nil {
		s.logger.Warn("failed to resolve account identity",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return ""
	}
	s.mu.Lock()
	s.stateLocked(userID).identity = id
	s.mu.Unlock()
	return id
}

func isTokenFailure(err error) bool {
	switch platform.KindOf(err) {
	case platform.KindNoCredential, platform.KindRefreshUnavailable, platform.KindRefreshFailed:
		return true
	}
	return false
}

func (s *Service) tokenFailed(userID string, err error) {
	if !isTokenFailure(err) {
		return
	}
	s.mu.Lock()
	st := s.stateLocked(userID)
	st.tokenFailures++
	escalate := !st.disconnected && st.tokenFailures >= s.cfg.DisconnectThreshold
	if escalate {
		st.disconnected = true
	}
	failures := st.tokenFailures
	s.mu.Unlock()

	if escalate {
		s.logger.Error("integration disconnected",
			slog.String("user_id", userID),
			slog.Int("consecutive_failures", failures),
			slog.Any("error", err))
		if s.cfg.OnDisconnected != nil {
			s.cfg.OnDisconnected(userID, err)
		}
	}
}

func (s *Service) tokenSucceeded(userID string) {
	s.mu.Lock()
	st := s.stateLocked(userID)
	reconnected := st.disconnected
	st.tokenFailures = 0
	st.disconnected = false
	s.mu.Unlock()

	if reconnected {
		s.logger.Info("integration reconnected", slog.String("user_id", userID))
	}
}

func (s *Service) disconnectedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, st := range s.users {
		if st.disconnected {
			n++
		}
	}
	return n
}

// stateLocked returns the user's state, creating it. s.mu must be held.
func (s *Service) stateLocked(userID string) *userState {
	st, ok := s.users[userID]
	if !ok {
		st = &userState{state: StateIdle}
		s.users[userID] = st
	}
	return st
}

func (s *Service) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(userID)
	if st.state == StatePolling || st.state == StateReinitializing {
		return false
	}
	st.state = StatePolling
	return true
}

func (s *Service) finish(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	if !ok {
		return
	}
	if st.disconnected {
		st.state = StateDisconnected
	} else {
		st.state = StateIdle
	}
}

func (s *Service) setState(userID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(userID).state = state
}

// prune drops in-memory state for users that no longer hold a credential.
func (s *Service) prune(users []string) {
	listed := make(map[string]struct{}, len(users))
	for _, id := range users {
		listed[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.users {
		if _, ok := listed[id]; ok {
			continue
		}
		if st.state == StatePolling || st.state == StateReinitializing {
			continue
		}
		delete(s.users, id)
	}
}
