package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/recycle-rewards/internal/ledger"
	"github.com/zombor/recycle-rewards/internal/reward"
	"github.com/zombor/recycle-rewards/internal/vision"
)

// State is a scan session's position in its lifecycle
type State string

const (
	StateIdle        State = "idle"
	StateCapturing   State = "capturing"
	StateCaptured    State = "captured"
	StateClassifying State = "classifying"
	StateDeciding    State = "deciding"
	StateCrediting   State = "crediting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

var (
	// ErrCancelled means the session observed a cancel signal before completing
	ErrCancelled = errors.New("scan session cancelled")
	// ErrCreditFailed means the ledger credit could not be applied after
	// exhausting conflict retries
	ErrCreditFailed = errors.New("credit failed")
)

const (
	classifyRetries        = 2
	classifyInitialBackoff = 500 * time.Millisecond
	creditRetries          = 5
	creditInitialBackoff   = 50 * time.Millisecond
)

// IDGenerator generates submission IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// SleepFunc waits out a backoff interval, returning early with the
// context's error on cancellation
type SleepFunc func(ctx context.Context, d time.Duration) error

// uuidGenerator generates submission IDs as random UUIDs
type uuidGenerator struct{}

func (g uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t defaultTimeSource) Now() time.Time {
	return time.Now()
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Orchestrator builds scan sessions around a detector and a ledger
type Orchestrator struct {
	detector vision.Detector
	ledger   ledger.Store
	ids      IDGenerator
	clock    TimeSource
	sleep    SleepFunc
}

// NewOrchestrator creates a new Orchestrator with default ID generation and clock
func NewOrchestrator(detector vision.Detector, store ledger.Store) *Orchestrator {
	return &Orchestrator{
		detector: detector,
		ledger:   store,
		ids:      uuidGenerator{},
		clock:    defaultTimeSource{},
		sleep:    defaultSleep,
	}
}

// NewOrchestratorWithDeps creates a new Orchestrator with custom dependencies for testing
func NewOrchestratorWithDeps(detector vision.Detector, store ledger.Store, ids IDGenerator, clock TimeSource, sleep SleepFunc) *Orchestrator {
	return &Orchestrator{
		detector: detector,
		ledger:   store,
		ids:      ids,
		clock:    clock,
		sleep:    sleep,
	}
}

// Session is one capture-to-credit attempt. The submission ID is fixed when
// the session is created and reused by every retry inside it, so a session
// can never credit twice.
type Session struct {
	orc          *Orchestrator
	userID       string
	submissionID string
	state        State
}

// NewSession creates a session for a user with a generated submission ID
func (o *Orchestrator) NewSession(userID string) *Session {
	return o.NewSessionWithID(userID, o.ids.Generate())
}

// NewSessionWithID creates a session reusing a caller-supplied idempotency
// key, so an external retry of a whole attempt stays credit-safe too.
func (o *Orchestrator) NewSessionWithID(userID, submissionID string) *Session {
	return &Session{
		orc:          o,
		userID:       userID,
		submissionID: submissionID,
		state:        StateIdle,
	}
}

// SubmissionID returns the session's idempotency key
func (s *Session) SubmissionID() string {
	return s.submissionID
}

// State returns the session's current state
func (s *Session) State() State {
	return s.state
}

// Result reports a completed session to the caller
type Result struct {
	SubmissionID string          `json:"submission_id"`
	Decision     reward.Decision `json:"decision"`
	Balance      int64           `json:"balance"`
	ScannedCount int64           `json:"scanned_count"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// Rewarded reports whether the session produced a credit
func (r *Result) Rewarded() bool {
	return r.Decision.Category != reward.CategoryNone
}

// Run drives the session from Idle to a terminal state. The camera is
// acquired on entering Capturing and released on every exit path. A credit
// already committed is the point of no return: cancellation after it still
// completes the session.
func (s *Session) Run(ctx context.Context, cam Camera) (*Result, error) {
	submittedAt := s.orc.clock.Now()

	image, err := s.capture(ctx, cam)
	if err != nil {
		return nil, err
	}

	labels, err := s.classify(ctx, image)
	if err != nil {
		return nil, err
	}

	s.state = StateDeciding
	decision := reward.Decide(labels)
	if err := s.checkCancel(ctx); err != nil {
		return nil, err
	}

	credit, err := s.credit(ctx, decision)
	if err != nil {
		return nil, err
	}

	s.state = StateCompleted
	slog.Info("Scan session completed",
		"user_id", s.userID,
		"submission_id", s.submissionID,
		"category", decision.Category,
		"amount", decision.Amount,
		"balance", credit.Balance,
		"replayed", credit.Replayed,
	)

	return &Result{
		SubmissionID: s.submissionID,
		Decision:     decision,
		Balance:      credit.Balance,
		ScannedCount: credit.ScannedCount,
		SubmittedAt:  submittedAt,
	}, nil
}

// checkCancel halts progression between stages once the context is done
func (s *Session) checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.state = StateCancelled
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}

// fail marks the session failed, carrying the error kind for display
func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

func (s *Session) capture(ctx context.Context, cam Camera) ([]byte, error) {
	if err := s.checkCancel(ctx); err != nil {
		return nil, err
	}

	s.state = StateCapturing
	if err := cam.StartCapture(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.state = StateCancelled
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return nil, s.fail(fmt.Errorf("starting capture: %w", err))
	}
	defer cam.StopCapture()

	image, err := cam.TakeStill(ctx)
	if err != nil {
		if err := s.checkCancel(ctx); err != nil {
			return nil, err
		}
		return nil, s.fail(fmt.Errorf("taking still: %w", err))
	}

	s.state = StateCaptured
	return image, s.checkCancel(ctx)
}

func (s *Session) classify(ctx context.Context, image []byte) (*vision.ClassificationResult, error) {
	s.state = StateClassifying

	backoff := classifyInitialBackoff
	var lastErr error
	for attempt := 0; attempt <= classifyRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying classification",
				"submission_id", s.submissionID,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			if err := s.orc.sleep(ctx, backoff); err != nil {
				s.state = StateCancelled
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			backoff *= 2
		}

		labels, err := s.orc.detector.DetectLabels(ctx, image)
		if err == nil {
			return labels, s.checkCancel(ctx)
		}
		if !errors.Is(err, vision.ErrServiceUnavailable) {
			return nil, s.fail(fmt.Errorf("classifying image: %w", err))
		}
		lastErr = err
	}

	return nil, s.fail(fmt.Errorf("classifying image: %w", lastErr))
}

func (s *Session) credit(ctx context.Context, decision reward.Decision) (ledger.CreditResult, error) {
	s.state = StateCrediting

	backoff := creditInitialBackoff
	var lastErr error
	for attempt := 0; attempt <= creditRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying credit after conflict",
				"submission_id", s.submissionID,
				"attempt", attempt,
				"backoff", backoff,
			)
			if err := s.orc.sleep(ctx, backoff); err != nil {
				s.state = StateCancelled
				return ledger.CreditResult{}, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			backoff *= 2
		}

		result, err := s.orc.ledger.Credit(ctx, s.userID, s.submissionID, decision)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.state = StateCancelled
			return ledger.CreditResult{}, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if !errors.Is(err, ledger.ErrConflict) {
			return ledger.CreditResult{}, s.fail(fmt.Errorf("%w: %w", ErrCreditFailed, err))
		}
		lastErr = err
	}

	return ledger.CreditResult{}, s.fail(fmt.Errorf("%w: conflict retries exhausted: %w", ErrCreditFailed, lastErr))
}
