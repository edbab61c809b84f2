// Package supervisor owns the long-lived chat session: it restores
// credentials, dials the transport, dispatches inbound events, and drives the
// connect → authenticate → stream → disconnect → reconnect state machine.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/promozap/promozap/internal/notify"
	"github.com/promozap/promozap/internal/session"
	"github.com/promozap/promozap/internal/transport"
)

// State is the connection state. Exactly one state is active at a time and
// transitions are serialized through the supervisor's mutex.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateAwaitingEnrollment State = "awaiting_enrollment"
	StateOpen               State = "open"
	StateClosing            State = "closing"
)

var (
	// ErrAlreadyRunning is returned by Start while supervision is active.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrClearInFlight rejects a session clear while another one runs.
	ErrClearInFlight = errors.New("session clear already in flight")
)

// MessageHandler consumes inbound chat messages. Handlers run one at a time
// on the event loop; a slow handler delays later events of the same
// connection but never races another handler.
type MessageHandler interface {
	Handle(ctx context.Context, msg transport.Message, sender transport.Client)
}

// Notifier receives visible connectivity changes.
type Notifier interface {
	Publish(ev notify.StatusEvent)
}

// Config holds the supervisor settings.
type Config struct {
	SessionKey    string
	CacheDir      string
	MaxReconnects int
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	State          State  `json:"state"`
	Attempts       int    `json:"reconnect_attempts"`
	EnrollmentCode string `json:"enrollment_code,omitempty"`
}

// Supervisor keeps one authenticated session alive.
type Supervisor struct {
	cfg      Config
	dialer   transport.Dialer
	store    *session.Store
	notifier Notifier
	handler  MessageHandler
	logger   *slog.Logger

	// storeMu serializes durable-store writes so a credential persist and a
	// session clear never interleave.
	storeMu sync.Mutex

	mu             sync.Mutex
	state          State
	attempts       int
	enrollmentCode string
	client         transport.Client
	clearing       bool
	connectedOnce  bool
	gen            int
	retryTimer     *time.Timer
	runCtx         context.Context
	runCancel      context.CancelFunc
}

// New creates a supervisor. Supervision starts on Start.
func New(log *slog.Logger, cfg Config, dialer transport.Dialer, store *session.Store, notifier Notifier, handler MessageHandler) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	return &Supervisor{
		cfg:      cfg,
		dialer:   dialer,
		store:    store,
		notifier: notifier,
		handler:  handler,
		logger:   log.With(slog.String("component", "supervisor")),
		state:    StateDisconnected,
	}
}

// nextDelay is the reconnect backoff: linear, capped at ten seconds.
func nextDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// Start restores credentials and begins supervision in the background. It
// returns immediately; all further control flows through transport events.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	// Supervision outlives the request that started it.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.attempts = 0
	s.transitionLocked(StateConnecting, "")
	gen := s.gen
	s.mu.Unlock()

	go s.connect(gen)
	return nil
}

// Stop logs out and tears the session down. No retry is scheduled, and a
// retry already waiting out its backoff is cancelled.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected && s.retryTimer == nil {
		s.mu.Unlock()
		return nil
	}
	s.transitionLocked(StateClosing, "")
	client := s.client
	cancel := s.runCancel
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if client != nil {
		if err = client.Logout(ctx); err != nil {
			s.logger.Warn("logout failed", slog.Any("error", err))
		}
	}

	s.mu.Lock()
	s.client = nil
	s.attempts = 0
	s.transitionLocked(StateDisconnected, "")
	s.mu.Unlock()
	return err
}

// Status returns a snapshot of the connection state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state,
		Attempts:       s.attempts,
		EnrollmentCode: s.enrollmentCode,
	}
}

// ClearSession purges all persisted credential fragments and the local
// cache. Only one clear may run at a time; credential persists are skipped
// while it is in flight.
func (s *Supervisor) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	if s.clearing {
		s.mu.Unlock()
		return ErrClearInFlight
	}
	s.clearing = true
	s.mu.Unlock()

	s.storeMu.Lock()
	err := s.store.Clear(ctx, s.cfg.SessionKey)
	s.storeMu.Unlock()

	s.mu.Lock()
	s.clearing = false
	s.enrollmentCode = ""
	s.connectedOnce = false
	s.mu.Unlock()
	return err
}

func (s *Supervisor) connect(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	s.mu.Unlock()

	restored, err := s.store.Restore(ctx, s.cfg.SessionKey)
	if err != nil {
		// Degrade to a fresh session instead of crashing.
		s.logger.Warn("credential restore failed, starting without prior session", slog.Any("error", err))
	} else if restored == 0 {
		s.logger.Info("no prior session, fresh enrollment expected")
	}

	client, events, err := s.dialer.Dial(ctx, s.cfg.CacheDir)
	if err != nil {
		s.logger.Error("dial failed", slog.Any("error", err))
		s.handleClose(gen, transport.CloseConnectionLost)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = client.Logout(context.Background())
		return
	}
	s.client = client
	s.mu.Unlock()

	go s.eventLoop(gen, client, events)
}

// eventLoop consumes transport events serially until the stream closes. A
// stream that ends without an explicit close event counts as a retryable
// close.
func (s *Supervisor) eventLoop(gen int, client transport.Client, events <-chan transport.Event) {
	defer func() {
		s.handleClose(gen, transport.CloseStreamEnded)
	}()
	for ev := range events {
		s.mu.Lock()
		stale := gen != s.gen
		ctx := s.runCtx
		s.mu.Unlock()
		if stale {
			return
		}

		switch ev.Kind {
		case transport.EventEnrollmentCode:
			s.handleEnrollmentCode(ev.Code)
		case transport.EventOpened:
			s.handleOpened()
		case transport.EventCredentials:
			s.persistFragments(ctx, ev.Fragments)
		case transport.EventMessage:
			if s.handler != nil {
				s.handler.Handle(ctx, ev.Message, client)
			}
		case transport.EventClosed:
			s.handleClose(gen, ev.Reason)
			return
		}
	}
}

func (s *Supervisor) handleEnrollmentCode(code string) {
	s.mu.Lock()
	s.attempts = 0
	s.enrollmentCode = code
	s.transitionLocked(StateAwaitingEnrollment, code)
	s.mu.Unlock()
}

func (s *Supervisor) handleOpened() {
	s.mu.Lock()
	s.attempts = 0
	s.enrollmentCode = ""
	first := !s.connectedOnce
	s.connectedOnce = true
	s.transitionLocked(StateOpen, "")
	s.mu.Unlock()

	if first {
		s.logger.Info("session open")
	} else {
		s.logger.Debug("session reopened")
	}
}

func (s *Supervisor) handleClose(gen int, reason transport.CloseReason) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.client = nil

	if reason.Retryable() && s.attempts < s.cfg.MaxReconnects {
		s.attempts++
		attempt := s.attempts
		delay := nextDelay(attempt)
		s.gen++
		next := s.gen
		s.transitionLocked(StateDisconnected, "")
		s.retryTimer = time.AfterFunc(delay, func() {
			s.mu.Lock()
			s.retryTimer = nil
			if next != s.gen || s.state != StateDisconnected {
				s.mu.Unlock()
				return
			}
			s.transitionLocked(StateConnecting, "")
			s.mu.Unlock()
			s.connect(next)
		})
		s.mu.Unlock()
		s.logger.Warn("connection closed, retrying",
			slog.String("reason", string(reason)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))
		return
	}

	// Terminal: purge credentials and wait for an external start.
	s.attempts = 0
	s.enrollmentCode = ""
	s.gen++
	s.transitionLocked(StateDisconnected, "")
	ctx := s.runCtx
	s.mu.Unlock()

	s.logger.Warn("connection closed for good, purging session",
		slog.String("reason", string(reason)))
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ClearSession(ctx); err != nil && !errors.Is(err, ErrClearInFlight) {
		s.logger.Warn("session purge failed", slog.Any("error", err))
	}
}

func (s *Supervisor) persistFragments(ctx context.Context, fragments []transport.Fragment) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	s.mu.Lock()
	clearing := s.clearing
	s.mu.Unlock()
	if clearing {
		s.logger.Debug("skipping credential persist, clear in flight")
		return
	}

	converted := make([]session.Fragment, 0, len(fragments))
	for _, f := range fragments {
		converted = append(converted, session.Fragment{Name: f.Name, Content: f.Content})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.store.Persist(ctx, s.cfg.SessionKey, converted); err != nil {
		s.logger.Warn("credential persist failed", slog.Any("error", err))
	}
}

// transitionLocked records the new state and publishes it. Callers hold mu.
func (s *Supervisor) transitionLocked(state State, enrollmentCode string) {
	s.state = state
	if s.notifier == nil {
		return
	}
	ev := notify.StatusEvent{State: string(state)}
	if enrollmentCode != "" {
		qr, err := notify.QRDataURL(enrollmentCode)
		if err != nil {
			s.logger.Warn("qr render failed", slog.Any("error", err))
		} else {
			ev.QRCode = qr
		}
	}
	s.notifier.Publish(ev)
}
