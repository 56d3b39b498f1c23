package checkin

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	model "github.com/cheqin-app/backend/internal/model/checkin"
	"github.com/cheqin-app/backend/internal/model/companion"
	"github.com/cheqin-app/backend/internal/service/realtime"
	"github.com/cheqin-app/backend/internal/service/scoring"
	store "github.com/cheqin-app/backend/internal/store/checkin"
)

type scriptedRunner struct {
	mu      sync.Mutex
	state   realtime.State
	err     error
	done    chan struct{}
	acc     *realtime.Accumulator
	onEvent func(realtime.Event)

	startErr error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		state: realtime.StateIdle,
		done:  make(chan struct{}),
		acc:   realtime.NewAccumulator(),
	}
}

func (r *scriptedRunner) Start(ctx context.Context) error {
	if r.startErr != nil {
		r.setState(realtime.StateFailed)
		close(r.done)
		return r.startErr
	}
	r.setState(realtime.StateActive)
	return nil
}

func (r *scriptedRunner) Stop() { r.end(nil) }

func (r *scriptedRunner) Done() <-chan struct{} { return r.done }

func (r *scriptedRunner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *scriptedRunner) State() realtime.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *scriptedRunner) Transcript() *realtime.Accumulator { return r.acc }

func (r *scriptedRunner) setState(s realtime.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *scriptedRunner) end(err error) {
	r.mu.Lock()
	if r.state == realtime.StateClosed || r.state == realtime.StateFailed {
		r.mu.Unlock()
		return
	}
	r.err = err
	if err != nil {
		r.state = realtime.StateFailed
	} else {
		r.state = realtime.StateClosed
	}
	r.mu.Unlock()
	close(r.done)
}

func newTestService(runner *scriptedRunner) *Service {
	factory := func(profile companion.Companion, onEvent func(realtime.Event)) SessionRunner {
		runner.onEvent = onEvent
		return runner
	}
	scorer, _ := scoring.NewService(context.Background(), nil, scoring.Config{})
	return NewService(factory, companion.NewMemoryStore(companion.Seed()), store.NewStore(), scorer)
}

func TestStartAndStopPersistsScoredRecord(t *testing.T) {
	runner := newScriptedRunner()
	svc := newTestService(runner)
	ctx := context.Background()

	snap, err := svc.StartSession(ctx, "mira")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if snap.State != realtime.StateActive {
		t.Fatalf("expected active session, got %s", snap.State)
	}

	runner.acc.Append(model.SpeakerAssistant, "How are you today?")
	runner.acc.Append(model.SpeakerUser, "I feel happy, went for a walk")

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	final, err := svc.StopSession(stopCtx, snap.ID)
	if err != nil {
		t.Fatalf("StopSession err: %v", err)
	}
	if final.Record == nil {
		t.Fatal("expected persisted record")
	}
	if final.Record.Status != model.StatusCompleted {
		t.Fatalf("expected completed record, got %s", final.Record.Status)
	}
	if final.Record.Scores == nil {
		t.Fatal("completed record should carry scores")
	}
	if final.Record.Transcript == "" {
		t.Fatal("record should keep the compiled transcript")
	}
}

func TestSecondSessionRejectedWhileLive(t *testing.T) {
	runner := newScriptedRunner()
	svc := newTestService(runner)
	ctx := context.Background()

	snap, err := svc.StartSession(ctx, "")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	if _, err := svc.StartSession(ctx, "mira"); !errors.Is(err, realtime.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := svc.StopSession(stopCtx, snap.ID); err != nil {
		t.Fatalf("StopSession err: %v", err)
	}
}

func TestEmptySessionStoredWithoutScores(t *testing.T) {
	runner := newScriptedRunner()
	svc := newTestService(runner)
	ctx := context.Background()

	snap, err := svc.StartSession(ctx, "mira")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	// assistant spoke, the user never did
	runner.acc.Append(model.SpeakerAssistant, "Hello, anyone there?")

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	final, err := svc.StopSession(stopCtx, snap.ID)
	if err != nil {
		t.Fatalf("StopSession err: %v", err)
	}
	if final.Record.Status != model.StatusEmpty {
		t.Fatalf("expected empty status, got %s", final.Record.Status)
	}
	if final.Record.Scores != nil {
		t.Fatal("empty session must not be scored")
	}
}

func TestFailedSessionRecordedAsFailed(t *testing.T) {
	runner := newScriptedRunner()
	svc := newTestService(runner)
	ctx := context.Background()

	snap, err := svc.StartSession(ctx, "mira")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	runner.end(errors.New("transport dropped"))

	var record *model.CheckIn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(ctx, snap.ID)
		if err == nil && got.Record != nil {
			record = got.Record
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if record == nil {
		t.Fatal("failed session was never persisted")
	}
	if record.Status != model.StatusFailed {
		t.Fatalf("expected failed status, got %s", record.Status)
	}

	// the slot is free again
	runner2 := newScriptedRunner()
	svc.factory = func(profile companion.Companion, onEvent func(realtime.Event)) SessionRunner {
		return runner2
	}
	if _, err := svc.StartSession(ctx, "mira"); err != nil {
		t.Fatalf("slot should be free after failure: %v", err)
	}
}

func TestStartErrorFreesSlot(t *testing.T) {
	runner := newScriptedRunner()
	runner.startErr = realtime.ErrDeviceUnavailable
	svc := newTestService(runner)
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, "mira"); !errors.Is(err, realtime.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}

	runner2 := newScriptedRunner()
	svc.factory = func(profile companion.Companion, onEvent func(realtime.Event)) SessionRunner {
		return runner2
	}
	if _, err := svc.StartSession(ctx, "mira"); err != nil {
		t.Fatalf("slot should be free after start failure: %v", err)
	}
}

func TestUnknownCompanionRejected(t *testing.T) {
	svc := newTestService(newScriptedRunner())
	if _, err := svc.StartSession(context.Background(), "nobody"); !errors.Is(err, ErrCompanionNotFound) {
		t.Fatalf("expected ErrCompanionNotFound, got %v", err)
	}
}

// liveStream blocks Read until Release, like an open microphone.
type liveStream struct {
	stop chan struct{}
	once sync.Once
}

func (s *liveStream) Read(b []byte) (int, error) {
	<-s.stop
	return 0, io.EOF
}

func (s *liveStream) Release() { s.once.Do(func() { close(s.stop) }) }

type liveCapture struct{ stream *liveStream }

func (c *liveCapture) Acquire(ctx context.Context) (realtime.AudioStream, error) {
	return c.stream, nil
}

type liveBroker struct{}

func (liveBroker) Issue(ctx context.Context, req realtime.TokenRequest) (*realtime.Credential, error) {
	return &realtime.Credential{Secret: "ek_test", Model: req.Model}, nil
}

type liveConn struct {
	events chan *realtime.ServerEvent
	errs   chan error
}

func (c *liveConn) Send(event any) error              { return nil }
func (c *liveConn) SendAudio(pcm []byte) error        { return nil }
func (c *liveConn) Events() <-chan *realtime.ServerEvent { return c.events }
func (c *liveConn) Errors() <-chan error              { return c.errs }
func (c *liveConn) Close()                            {}

type liveTransport struct{ conn *liveConn }

func (t *liveTransport) Negotiate(ctx context.Context, cred *realtime.Credential) (realtime.Conn, error) {
	return t.conn, nil
}

// The HTTP layer cancels the request context right after the start
// response is written; the established session must not die with it.
func TestStartedSessionOutlivesRequestContext(t *testing.T) {
	conn := &liveConn{
		events: make(chan *realtime.ServerEvent, 32),
		errs:   make(chan error, 1),
	}
	conn.events <- &realtime.ServerEvent{Type: realtime.TypeSessionCreated}
	conn.events <- &realtime.ServerEvent{Type: realtime.TypeSessionUpdated}

	factory := func(profile companion.Companion, onEvent func(realtime.Event)) SessionRunner {
		return realtime.New(realtime.Options{
			Broker:    liveBroker{},
			Transport: &liveTransport{conn: conn},
			Capture:   &liveCapture{stream: &liveStream{stop: make(chan struct{})}},
			Model:     "test-model",
			OnEvent:   onEvent,
		})
	}
	scorer, _ := scoring.NewService(context.Background(), nil, scoring.Config{})
	svc := NewService(factory, companion.NewMemoryStore(companion.Seed()), store.NewStore(), scorer)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	snap, err := svc.StartSession(reqCtx, "mira")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	cancelReq()

	conn.events <- &realtime.ServerEvent{Type: realtime.TypeInputTranscriptionCompleted, Transcript: "doing fine"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := svc.Get(context.Background(), snap.ID)
		if err == nil && got.State == realtime.StateActive && len(got.Transcript) == 1 {
			break
		}
		if time.Now().After(deadline) {
			state := realtime.State("unknown")
			if err == nil {
				state = got.State
			}
			t.Fatalf("session did not stay active after request ctx cancel, state=%s", state)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := svc.StopSession(stopCtx, snap.ID)
	if err != nil {
		t.Fatalf("StopSession err: %v", err)
	}
	if final.State != realtime.StateClosed {
		t.Fatalf("expected closed state, got %s", final.State)
	}
	if final.Record == nil || final.Record.Status != model.StatusCompleted {
		t.Fatalf("expected completed record, got %+v", final.Record)
	}
}

func TestSubscribeReceivesBroadcastEvents(t *testing.T) {
	runner := newScriptedRunner()
	svc := newTestService(runner)
	ctx := context.Background()

	snap, err := svc.StartSession(ctx, "mira")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	events, cancel, err := svc.Subscribe(snap.ID)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer cancel()

	runner.onEvent(realtime.Event{Kind: realtime.EventUserTranscript, Text: "hello"})

	select {
	case ev := <-events:
		if ev.Kind != realtime.EventUserTranscript || ev.Text != "hello" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	stopCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	if _, err := svc.StopSession(stopCtx, snap.ID); err != nil {
		t.Fatalf("StopSession err: %v", err)
	}

	// hub closes after the session ends
	select {
	case _, ok := <-events:
		if ok {
			// drain any event emitted during shutdown
			if _, ok := <-events; ok {
				t.Fatal("expected channel to close after session end")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never closed")
	}
}
