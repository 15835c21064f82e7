// Package sm2 implements the SM-2 spaced repetition scheduler.
//
// The scheduler is a pure function of the previous review state, the recall
// quality reported by the user and the current time. It never touches storage;
// callers persist the returned ReviewState themselves.
package sm2

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Quality is the self-reported recall quality of a single grading, 0 to 5.
type Quality int

const (
	MinQuality Quality = 0
	MaxQuality Quality = 5

	// PassingQuality is the lowest quality counted as a successful recall.
	PassingQuality Quality = 3
)

// Valid reports whether q lies in [MinQuality, MaxQuality].
func (q Quality) Valid() bool {
	return q >= MinQuality && q <= MaxQuality
}

// Passed reports whether q counts as a successful recall.
func (q Quality) Passed() bool {
	return q >= PassingQuality
}

const (
	// DefaultEaseFactor is the ease of a card that has never been graded.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor applied to every computed ease factor.
	MinEaseFactor = 1.3
)

// ErrInvalidArgument is wrapped by every input validation error.
var ErrInvalidArgument = errors.New("invalid argument")

// ReviewState is the persisted memory model of one card for one user.
type ReviewState struct {
	IntervalDays   int       `json:"interval_days"`
	EaseFactor     float64   `json:"ease_factor"`
	Repetitions    int       `json:"repetitions"`
	NextReviewAt   time.Time `json:"next_review_at"`
	LastReviewedAt time.Time `json:"last_reviewed_at,omitempty"` // audit only
}

// NewReviewState returns the implicit seed state of a card that has never been graded.
func NewReviewState() ReviewState {
	return ReviewState{
		IntervalDays: 0,
		EaseFactor:   DefaultEaseFactor,
		Repetitions:  0,
	}
}

// IsNew reports whether the state has never been produced by a grading.
func (s ReviewState) IsNew() bool {
	return s.LastReviewedAt.IsZero() && s.Repetitions == 0 && s.IntervalDays == 0
}

// IsDue reports whether the card should be reviewed at now.
func (s ReviewState) IsDue(now time.Time) bool {
	return !s.NextReviewAt.After(now)
}

// Params holds the tunable constants of the algorithm.
type Params struct {
	MinEaseFactor  float64
	FirstInterval  int // interval after the first successful recall
	SecondInterval int // interval after the second successful recall
}

// DefaultParams returns the classic SM-2 constants.
func DefaultParams() Params {
	return Params{
		MinEaseFactor:  MinEaseFactor,
		FirstInterval:  1,
		SecondInterval: 6,
	}
}

// ComputeNextSchedule computes the state that follows a grading of the given
// quality, using the default parameters.
//
// On a successful recall the interval goes 1, 6, then round(prevInterval * prevEase),
// and the ease factor is adjusted by the SM-2 formula. On a failure the
// repetition streak is reset and the interval drops back to one day; the ease
// factor is left as it was. The result's ease factor is never below 1.3.
func ComputeNextSchedule(quality Quality, prevIntervalDays int, prevEaseFactor float64, prevRepetitions int, now time.Time) (ReviewState, error) {
	return compute(DefaultParams(), quality, prevIntervalDays, prevEaseFactor, prevRepetitions, now)
}

// Next is ComputeNextSchedule taking the previous state as a whole.
func Next(prev ReviewState, quality Quality, now time.Time) (ReviewState, error) {
	return ComputeNextSchedule(quality, prev.IntervalDays, prev.EaseFactor, prev.Repetitions, now)
}

// PreviewAllGradings returns the state each grading button would produce,
// without mutating current.
func PreviewAllGradings(current ReviewState, now time.Time) (Preview, error) {
	return preview(DefaultParams(), current, now)
}

func compute(p Params, quality Quality, prevInterval int, prevEase float64, prevReps int, now time.Time) (ReviewState, error) {
	if err := validate(p, quality, prevInterval, prevEase, prevReps); err != nil {
		return ReviewState{}, err
	}

	next := ReviewState{
		EaseFactor:     prevEase,
		LastReviewedAt: now,
	}

	if quality.Passed() {
		switch prevReps {
		case 0:
			next.IntervalDays = p.FirstInterval
		case 1:
			next.IntervalDays = p.SecondInterval
		default:
			// The prior ease drives growth; the adjusted ease applies from the next grading on.
			next.IntervalDays = int(math.Round(float64(prevInterval) * prevEase))
		}
		next.Repetitions = prevReps + 1

		lapse := float64(MaxQuality - quality)
		next.EaseFactor = prevEase + (0.1 - lapse*(0.08+lapse*0.02))
	} else {
		// Classic SM-2: a lapse resets the streak but does not penalize ease.
		next.Repetitions = 0
		next.IntervalDays = 1
	}

	if next.EaseFactor < p.MinEaseFactor {
		next.EaseFactor = p.MinEaseFactor
	}
	if next.IntervalDays < 1 {
		next.IntervalDays = 1
	}

	next.NextReviewAt = now.AddDate(0, 0, next.IntervalDays)
	return next, nil
}

func validate(p Params, quality Quality, prevInterval int, prevEase float64, prevReps int) error {
	if !quality.Valid() {
		return fmt.Errorf("%w: quality %d outside [%d,%d]", ErrInvalidArgument, quality, MinQuality, MaxQuality)
	}
	if prevInterval < 0 {
		return fmt.Errorf("%w: negative interval %d", ErrInvalidArgument, prevInterval)
	}
	if prevReps < 0 {
		return fmt.Errorf("%w: negative repetitions %d", ErrInvalidArgument, prevReps)
	}
	if math.IsNaN(prevEase) || prevEase < p.MinEaseFactor {
		return fmt.Errorf("%w: ease factor %v below %v", ErrInvalidArgument, prevEase, p.MinEaseFactor)
	}
	return nil
}
