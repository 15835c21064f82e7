// Package session drives one interactive review sitting over an ordered queue
// of due cards.
//
// A Driver is plain in-memory state mutated by discrete user actions. It owns
// no goroutines or timers: elapsed time is reported by an external tick source
// through Tick or RecordElapsed. A Driver is not safe for concurrent use; each
// interactive session owns its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/danieldreier/mcp-review/internal/sm2"
	"go.uber.org/zap"
)

var (
	// ErrNoActiveSession is returned by operations that need a loaded queue.
	ErrNoActiveSession = errors.New("no active review session")
	// ErrCardNotInQueue is returned when a card id is not part of the current queue.
	ErrCardNotInQueue = errors.New("card not in session queue")
	// ErrWrongMode is returned when grading is requested in a quiz session.
	ErrWrongMode = errors.New("operation not available in this session mode")
	// ErrPersistence is wrapped by every PersistenceError.
	ErrPersistence = errors.New("failed to persist review state")
)

// Status is the lifecycle state of a Driver.
type Status int

const (
	StatusIdle      Status = iota // no queue loaded
	StatusActive                  // queue loaded, index points at the current card
	StatusCompleted               // index advanced past the last card
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Mode selects how answers in a session are evaluated.
type Mode int

const (
	// ModeFlashcard sessions are graded through the scheduler.
	ModeFlashcard Mode = iota
	// ModeQuiz sessions only check answers for correctness.
	ModeQuiz
)

func (m Mode) String() string {
	if m == ModeQuiz {
		return "quiz"
	}
	return "flashcard"
}

// ParseMode accepts "flashcard", "quiz" or an empty string (flashcard).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flashcard":
		return ModeFlashcard, nil
	case "quiz":
		return ModeQuiz, nil
	}
	return ModeFlashcard, fmt.Errorf("unknown session mode %q", s)
}

// Card is one entry of a session queue.
type Card struct {
	ID    string
	Front string
	Back  string
	// Schedule is the last persisted state, nil for a card that was never graded.
	Schedule *sm2.ReviewState
}

// ReviewStore persists review states keyed by (user, card). Writes are
// full-state upserts, so retrying a failed write is safe.
type ReviewStore interface {
	UpsertReviewState(ctx context.Context, userID, cardID string, state sm2.ReviewState) error
}

// Clock is the time source of a Driver.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// PersistenceError reports a grading whose result could not be stored. The
// grading itself took effect in the session.
type PersistenceError struct {
	UserID string
	CardID string
	State  sm2.ReviewState
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist review state for user %s card %s: %v", e.UserID, e.CardID, e.Err)
}

// Unwrap exposes both ErrPersistence and the store's error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Progress summarizes how far a session has come.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// GradeResult is the outcome of grading one card.
type GradeResult struct {
	CardID  string          `json:"card_id"`
	Quality sm2.Quality     `json:"quality"`
	State   sm2.ReviewState `json:"state"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMode sets the evaluation mode.
func WithMode(m Mode) Option {
	return func(d *Driver) {
		d.mode = m
	}
}

// Driver sequences through a fixed queue of cards.
type Driver struct {
	userID    string
	mode      Mode
	scheduler sm2.Scheduler
	store     ReviewStore
	clock     Clock
	logger    *zap.Logger

	status    Status
	queue     []Card
	positions map[string]int
	index     int
	answers   map[string]string
	gradings  map[string]sm2.ReviewState
	startedAt time.Time
	elapsed   time.Duration
}

// NewDriver creates an idle driver for userID. store may be nil, in which case
// gradings are kept in the session only.
func NewDriver(userID string, scheduler sm2.Scheduler, store ReviewStore, opts ...Option) *Driver {
	d := &Driver{
		userID:    userID,
		scheduler: scheduler,
		store:     store,
		clock:     SystemClock,
		logger:    zap.NewNop(),
	}
	if d.scheduler == nil {
		d.scheduler = sm2.NewScheduler()
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Reset()
	return d
}

// UserID returns the user the driver grades for.
func (d *Driver) UserID() string { return d.userID }

// Mode returns the evaluation mode.
func (d *Driver) Mode() Mode { return d.mode }

// SetMode changes the evaluation mode. It takes effect for the next LoadQueue.
func (d *Driver) SetMode(m Mode) { d.mode = m }

// Status returns the lifecycle state.
func (d *Driver) Status() Status { return d.status }

// Index returns the position of the current card.
func (d *Driver) Index() int { return d.index }

// Len returns the queue length.
func (d *Driver) Len() int { return len(d.queue) }

// Queue returns a copy of the queue.
func (d *Driver) Queue() []Card {
	out := make([]Card, len(d.queue))
	copy(out, d.queue)
	return out
}

// LoadQueue starts a session over cards, discarding any previous session data.
func (d *Driver) LoadQueue(cards []Card) {
	d.Reset()
	d.queue = make([]Card, len(cards))
	copy(d.queue, cards)
	for i, c := range d.queue {
		if c.Schedule != nil {
			s := *c.Schedule
			d.queue[i].Schedule = &s
		}
		d.positions[c.ID] = i
	}
	d.status = StatusActive
	d.logger.Debug("Session queue loaded",
		zap.String("user_id", d.userID),
		zap.Int("cards", len(d.queue)),
		zap.Stringer("mode", d.mode))
}

// Reset drops all session data and returns to Idle. Gradings already written
// to the store are unaffected.
func (d *Driver) Reset() {
	d.status = StatusIdle
	d.queue = nil
	d.positions = make(map[string]int)
	d.index = 0
	d.answers = make(map[string]string)
	d.gradings = make(map[string]sm2.ReviewState)
	d.startedAt = time.Time{}
	d.elapsed = 0
}

// CurrentCard returns the card under the index. ok is false when there is no
// current card: the driver is idle, completed, or the queue is empty.
func (d *Driver) CurrentCard() (card Card, ok bool) {
	if d.status != StatusActive || d.index >= len(d.queue) {
		return Card{}, false
	}
	return d.queue[d.index], true
}

// SubmitAnswer records an answer for a queued card. It does not advance.
// Like grading, it stays possible once the session has completed.
func (d *Driver) SubmitAnswer(cardID, answer string) error {
	if _, err := d.card(cardID); err != nil {
		return err
	}
	d.answers[cardID] = answer
	return nil
}

// Advance moves to the next card, completing the session after the last one.
func (d *Driver) Advance() Status {
	if d.status != StatusActive {
		return d.status
	}
	d.index++
	if d.index >= len(d.queue) {
		d.status = StatusCompleted
		d.logger.Debug("Session completed",
			zap.String("user_id", d.userID),
			zap.Int("answered", len(d.answers)),
			zap.Int("graded", len(d.gradings)))
	}
	return d.status
}

// Progress reports answered cards over the queue length. A card counts as
// completed once it has an answer, whether or not the answer was right.
func (d *Driver) Progress() Progress {
	p := Progress{Completed: len(d.answers), Total: len(d.queue)}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) * 100 / float64(p.Total)))
	}
	return p
}

// StartTimer records the session start. Later calls are ignored.
func (d *Driver) StartTimer() {
	if d.startedAt.IsZero() {
		d.startedAt = d.clock.Now()
	}
}

// StartedAt returns the recorded start, zero before StartTimer.
func (d *Driver) StartedAt() time.Time { return d.startedAt }

// Tick stores the time since StartTimer as the latest elapsed value.
func (d *Driver) Tick() time.Duration {
	if !d.startedAt.IsZero() {
		d.elapsed = d.clock.Now().Sub(d.startedAt)
	}
	return d.elapsed
}

// RecordElapsed stores an elapsed value measured by the caller.
func (d *Driver) RecordElapsed(elapsed time.Duration) {
	d.elapsed = elapsed
}

// Elapsed returns the latest reported elapsed time.
func (d *Driver) Elapsed() time.Duration { return d.elapsed }

// Answers returns a copy of the recorded answers by card id.
func (d *Driver) Answers() map[string]string {
	out := make(map[string]string, len(d.answers))
	for k, v := range d.answers {
		out[k] = v
	}
	return out
}

// Gradings returns a copy of the states produced in this session by card id.
func (d *Driver) Gradings() map[string]sm2.ReviewState {
	out := make(map[string]sm2.ReviewState, len(d.gradings))
	for k, v := range d.gradings {
		out[k] = v
	}
	return out
}

func (d *Driver) card(cardID string) (int, error) {
	if d.status == StatusIdle {
		return 0, ErrNoActiveSession
	}
	i, ok := d.positions[cardID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCardNotInQueue, cardID)
	}
	return i, nil
}

func priorState(c Card) sm2.ReviewState {
	if c.Schedule == nil {
		return sm2.NewReviewState()
	}
	return *c.Schedule
}
