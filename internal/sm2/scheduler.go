package sm2

import "time"

// Scheduler defines the scheduling operations the session layer depends on.
type Scheduler interface {
	// Schedule returns the state that follows grading prev with quality at now.
	Schedule(prev ReviewState, quality Quality, now time.Time) (ReviewState, error)

	// Preview returns the state each grading button would produce.
	Preview(current ReviewState, now time.Time) (Preview, error)

	// ReviewPriority calculates a priority score for a card (for sorting)
	ReviewPriority(state ReviewState, now time.Time) float64
}

// SchedulerImpl implements the Scheduler interface
type SchedulerImpl struct {
	params Params
}

// NewScheduler creates a new scheduler with the classic SM-2 parameters
func NewScheduler() Scheduler {
	return &SchedulerImpl{
		params: DefaultParams(),
	}
}

// NewSchedulerWithParams creates a new scheduler with custom parameters.
// Zero fields fall back to the defaults. The ease floor is never lower than
// MinEaseFactor.
func NewSchedulerWithParams(params Params) Scheduler {
	def := DefaultParams()
	if params.MinEaseFactor < MinEaseFactor {
		params.MinEaseFactor = def.MinEaseFactor
	}
	if params.FirstInterval <= 0 {
		params.FirstInterval = def.FirstInterval
	}
	if params.SecondInterval <= 0 {
		params.SecondInterval = def.SecondInterval
	}
	return &SchedulerImpl{params: params}
}

// Params returns the parameters in use.
func (s *SchedulerImpl) Params() Params {
	return s.params
}

// Schedule implements the Scheduler interface
func (s *SchedulerImpl) Schedule(prev ReviewState, quality Quality, now time.Time) (ReviewState, error) {
	return compute(s.params, quality, prev.IntervalDays, prev.EaseFactor, prev.Repetitions, now)
}

// Preview implements the Scheduler interface
func (s *SchedulerImpl) Preview(current ReviewState, now time.Time) (Preview, error) {
	return preview(s.params, current, now)
}

// ReviewPriority calculates a priority score for a card
// Higher priority means the card should be reviewed sooner
// The priority is based on:
// 1. Overdue cards have higher priority (multiplier based on how overdue)
// 2. Lapsed cards (graded before, streak reset) rank above cards in review
// 3. New cards have lowest priority
func (s *SchedulerImpl) ReviewPriority(state ReviewState, now time.Time) float64 {
	var basePriority float64
	switch {
	case state.IsNew():
		basePriority = 1.0
	case state.Repetitions == 0:
		basePriority = 3.0
	default:
		basePriority = 2.0
	}

	// A never-graded card has no due date and is due immediately.
	due := state.NextReviewAt
	if due.IsZero() {
		due = now
	}
	overdueDays := now.Sub(due).Hours() / 24.0

	if overdueDays >= 0 {
		// Linear growth keeps long-overdue cards from swamping the queue.
		return basePriority * (1.0 + overdueDays*0.1)
	}

	// Not yet due: the further away, the lower the priority.
	return basePriority / (1.0 - overdueDays)
}
