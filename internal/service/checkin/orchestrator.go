package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/cheqin-app/backend/internal/model/checkin"
	"github.com/cheqin-app/backend/internal/model/companion"
	"github.com/cheqin-app/backend/internal/service/realtime"
	"github.com/cheqin-app/backend/internal/service/scoring"
	store "github.com/cheqin-app/backend/internal/store/checkin"
)

var (
	ErrCompanionNotFound = errors.New("companion not found")
	ErrSessionNotFound   = errors.New("check-in session not found")
)

// SessionRunner is the slice of the realtime protocol the orchestrator
// needs. Narrow on purpose so tests can substitute a scripted runner.
type SessionRunner interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Err() error
	State() realtime.State
	Transcript() *realtime.Accumulator
}

// RunnerFactory builds a protocol driver for one session. onEvent receives
// the protocol's normalized events and must not block.
type RunnerFactory func(profile companion.Companion, onEvent func(realtime.Event)) SessionRunner

// Snapshot is the externally visible view of a session, live or finished.
type Snapshot struct {
	ID          string                 `json:"id"`
	CompanionID string                 `json:"companionId"`
	State       realtime.State         `json:"state"`
	StartedAt   time.Time              `json:"startedAt"`
	Transcript  []model.TranscriptLine `json:"transcript"`
	Record      *model.CheckIn         `json:"record,omitempty"`
}

type session struct {
	id        string
	profile   companion.Companion
	startedAt time.Time
	runner    SessionRunner
	hub       *eventHub
}

// Service coordinates check-in sessions: one live session at a time,
// events fanned out to subscribers, and a persisted record with wellness
// scores once the session ends.
type Service struct {
	factory    RunnerFactory
	companions companion.Store
	records    *store.Store
	scorer     *scoring.Service

	mu     sync.Mutex
	active *session
}

// NewService wires the orchestrator.
func NewService(factory RunnerFactory, companions companion.Store, records *store.Store, scorer *scoring.Service) *Service {
	return &Service{
		factory:    factory,
		companions: companions,
		records:    records,
		scorer:     scorer,
	}
}

// StartSession begins a check-in with the given companion. An empty
// companionID picks the first configured profile. While a session is live
// a second start is rejected with realtime.ErrSessionActive.
func (s *Service) StartSession(ctx context.Context, companionID string) (*Snapshot, error) {
	profile, err := s.resolveCompanion(companionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is live", realtime.ErrSessionActive, s.active.id)
	}

	sess := &session{
		id:        uuid.NewString(),
		profile:   profile,
		startedAt: time.Now().UTC(),
		hub:       newEventHub(),
	}
	sess.runner = s.factory(profile, sess.hub.broadcast)
	s.active = sess
	s.mu.Unlock()

	if err := sess.runner.Start(ctx); err != nil {
		s.finish(sess)
		return nil, err
	}

	log.Printf("[checkin] session %s started with %s", sess.id, profile.ID)
	go s.watch(sess)

	return s.snapshot(sess), nil
}

// StopSession requests a graceful stop and waits for the final record.
func (s *Service) StopSession(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess == nil || sess.id != id {
		return nil, ErrSessionNotFound
	}

	sess.runner.Stop()
	select {
	case <-sess.runner.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// watch() persists the record right after Done closes; give it a
	// moment before reading the store.
	record, err := s.awaitRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:          sess.id,
		CompanionID: sess.profile.ID,
		State:       sess.runner.State(),
		StartedAt:   sess.startedAt,
		Transcript:  sess.runner.Transcript().Lines(),
		Record:      record,
	}, nil
}

// Get returns the live session snapshot, or the stored record for a
// finished one.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess != nil && sess.id == id {
		return s.snapshot(sess), nil
	}

	record, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	state := realtime.StateClosed
	if record.Status == model.StatusFailed {
		state = realtime.StateFailed
	}
	return &Snapshot{
		ID:          record.ID,
		CompanionID: record.CompanionID,
		State:       state,
		StartedAt:   record.Timestamp,
		Record:      &record,
	}, nil
}

// Subscribe attaches to the live session's event stream. The returned
// cancel must be called when the consumer goes away.
func (s *Service) Subscribe(id string) (<-chan realtime.Event, func(), error) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess == nil || sess.id != id {
		return nil, nil, ErrSessionNotFound
	}
	ch, cancel := sess.hub.subscribe()
	return ch, cancel, nil
}

// History lists stored check-in records, newest first.
func (s *Service) History(ctx context.Context) ([]model.CheckIn, error) {
	return s.records.List(ctx)
}

func (s *Service) resolveCompanion(companionID string) (companion.Companion, error) {
	if companionID == "" {
		profiles := s.companions.List()
		if len(profiles) == 0 {
			return companion.Companion{}, ErrCompanionNotFound
		}
		return profiles[0], nil
	}

	profile, ok := s.companions.FindByID(companionID)
	if !ok {
		return companion.Companion{}, fmt.Errorf("%w: %s", ErrCompanionNotFound, companionID)
	}
	return profile, nil
}

// watch waits for the session to end, persists the record and frees the
// single-session slot.
func (s *Service) watch(sess *session) {
	<-sess.runner.Done()
	s.persistRecord(sess)
	s.finish(sess)
}

func (s *Service) persistRecord(sess *session) {
	acc := sess.runner.Transcript()
	record := model.CheckIn{
		ID:          sess.id,
		CompanionID: sess.profile.ID,
		Timestamp:   sess.startedAt,
		Transcript:  acc.Compile(),
	}

	switch {
	case sess.runner.Err() != nil:
		record.Status = model.StatusFailed
		log.Printf("[checkin] session %s failed: %v", sess.id, sess.runner.Err())

	case acc.IsEmpty():
		// no user speech was ever transcribed, nothing to score
		record.Status = model.StatusEmpty
		log.Printf("[checkin] session %s: %v", sess.id, realtime.ErrNoConversationRecorded)

	default:
		record.Status = model.StatusCompleted
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		record.Scores = s.scorer.Score(ctx, acc.UserText())
		cancel()
	}

	if _, err := s.records.Save(context.Background(), record); err != nil {
		log.Printf("[checkin] persist session %s failed: %v", sess.id, err)
	}
}

func (s *Service) finish(sess *session) {
	sess.hub.close()
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *Service) snapshot(sess *session) *Snapshot {
	return &Snapshot{
		ID:          sess.id,
		CompanionID: sess.profile.ID,
		State:       sess.runner.State(),
		StartedAt:   sess.startedAt,
		Transcript:  sess.runner.Transcript().Lines(),
	}
}

func (s *Service) awaitRecord(ctx context.Context, id string) (*model.CheckIn, error) {
	for {
		record, err := s.records.Get(ctx, id)
		if err == nil {
			return &record, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// eventHub fans protocol events out to SSE subscribers. Slow consumers
// drop events instead of blocking the protocol's event loop.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan realtime.Event
	nextID int
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan realtime.Event)}
}

func (h *eventHub) subscribe() (<-chan realtime.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan realtime.Event, 64)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *eventHub) broadcast(ev realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
