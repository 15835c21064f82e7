package session

import (
	"context"
	"strings"

	"github.com/danieldreier/mcp-review/internal/sm2"
	"go.uber.org/zap"
)

// Grade schedules cardID with the given recall quality and hands the new state
// to the store.
//
// Invalid quality leaves the session untouched and returns an error wrapping
// sm2.ErrInvalidArgument. When the store fails, the new state is still applied
// to the session and returned together with a *PersistenceError, so the user
// can keep reviewing while the caller retries or warns.
func (d *Driver) Grade(ctx context.Context, cardID string, quality sm2.Quality) (GradeResult, error) {
	if d.mode != ModeFlashcard {
		return GradeResult{}, ErrWrongMode
	}
	i, err := d.card(cardID)
	if err != nil {
		return GradeResult{}, err
	}

	now := d.clock.Now()
	prev := priorState(d.queue[i])
	next, err := d.scheduler.Schedule(prev, quality, now)
	if err != nil {
		d.logger.Debug("Grading rejected",
			zap.String("card_id", cardID),
			zap.Int("quality", int(quality)),
			zap.Error(err))
		return GradeResult{}, err
	}

	d.queue[i].Schedule = &next
	d.gradings[cardID] = next
	result := GradeResult{CardID: cardID, Quality: quality, State: next}

	d.logger.Debug("Card graded",
		zap.String("user_id", d.userID),
		zap.String("card_id", cardID),
		zap.Int("quality", int(quality)),
		zap.Int("interval_days", next.IntervalDays),
		zap.Float64("ease_factor", next.EaseFactor),
		zap.Int("repetitions", next.Repetitions),
		zap.Time("next_review_at", next.NextReviewAt))

	if d.store == nil {
		return result, nil
	}
	if err := d.store.UpsertReviewState(ctx, d.userID, cardID, next); err != nil {
		d.logger.Warn("Review state not persisted, session continues",
			zap.String("user_id", d.userID),
			zap.String("card_id", cardID),
			zap.Error(err))
		return result, &PersistenceError{UserID: d.userID, CardID: cardID, State: next, Err: err}
	}
	return result, nil
}

// GradeButton grades cardID with the quality of a canonical button.
func (d *Driver) GradeButton(ctx context.Context, cardID string, grade sm2.Grade) (GradeResult, error) {
	q, err := grade.Quality()
	if err != nil {
		return GradeResult{}, err
	}
	return d.Grade(ctx, cardID, q)
}

// Preview returns what each grading button would schedule for cardID.
func (d *Driver) Preview(cardID string) (sm2.Preview, error) {
	i, err := d.card(cardID)
	if err != nil {
		return sm2.Preview{}, err
	}
	return d.scheduler.Preview(priorState(d.queue[i]), d.clock.Now())
}

// CheckAnswer compares the recorded answer for cardID with the card back,
// ignoring case and extra whitespace.
func (d *Driver) CheckAnswer(cardID string) (correct, answered bool) {
	i, ok := d.positions[cardID]
	if !ok {
		return false, false
	}
	answer, ok := d.answers[cardID]
	if !ok {
		return false, false
	}
	return normalizeAnswer(answer) == normalizeAnswer(d.queue[i].Back), true
}

// Score counts correct answers among the answered cards.
func (d *Driver) Score() (correct, answered int) {
	for cardID := range d.answers {
		if ok, _ := d.CheckAnswer(cardID); ok {
			correct++
		}
	}
	return correct, len(d.answers)
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
