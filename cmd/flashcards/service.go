// Package main provides implementation for the flashcards MCP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danieldreier/mcp-review/internal/session"
	"github.com/danieldreier/mcp-review/internal/sm2"
	"github.com/danieldreier/mcp-review/internal/storage"
	"go.uber.org/zap"
)

// Variable to allow mocking time.Now in tests
var timeNow = time.Now

type contextKey string

const serviceKey contextKey = "service"

// withService returns a context carrying the service for tool handlers
func withService(ctx context.Context, s *FlashcardService) context.Context {
	return context.WithValue(ctx, serviceKey, s)
}

// serviceFrom extracts the service stored by withService
func serviceFrom(ctx context.Context) (*FlashcardService, bool) {
	s, ok := ctx.Value(serviceKey).(*FlashcardService)
	return s, ok && s != nil
}

// FlashcardService manages flashcards, their SM-2 schedules and the review session of one user
type FlashcardService struct {
	Storage   storage.Storage
	Scheduler sm2.Scheduler
	Session   *session.Driver
	Logger    *zap.Logger
}

// NewFlashcardService creates a new FlashcardService for userID. A nil logger disables logging.
func NewFlashcardService(store storage.Storage, userID string, logger *zap.Logger) *FlashcardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := sm2.NewScheduler()
	clock := session.ClockFunc(func() time.Time { return timeNow() })

	return &FlashcardService{
		Storage:   store,
		Scheduler: scheduler,
		Session: session.NewDriver(userID, scheduler, store,
			session.WithClock(clock),
			session.WithLogger(logger.Named("session"))),
		Logger: logger,
	}
}

// toCard converts a stored card to the response card, attaching the schedule if there is one
func toCard(c storage.Card, state sm2.ReviewState, graded bool, now time.Time) Card {
	card := Card{
		ID:        c.ID,
		Front:     c.Front,
		Back:      c.Back,
		CreatedAt: c.CreatedAt,
		Tags:      c.Tags,
		Due:       !graded || state.IsDue(now),
	}
	if graded {
		card.Schedule = &state
	}
	return card
}

// CreateCard creates a new flashcard using the Storage layer
func (s *FlashcardService) CreateCard(front, back string, tags []string) (Card, error) {
	s.Logger.Debug("Service CreateCard called", zap.String("front", front), zap.Strings("tags", tags))
	storageCard, err := s.Storage.CreateCard(front, back, tags)
	if err != nil {
		s.Logger.Error("Error creating card in storage", zap.Error(err))
		return Card{}, fmt.Errorf("error creating card in storage: %w", err)
	}

	if err := s.Storage.Save(); err != nil {
		s.Logger.Warn("Failed to save storage after creating card, but card exists in memory",
			zap.String("card_id", storageCard.ID), zap.Error(err))
	}

	return toCard(storageCard, sm2.ReviewState{}, false, timeNow()), nil
}

// UpdateCard updates an existing flashcard selectively based on non-nil input pointers.
func (s *FlashcardService) UpdateCard(cardID string, front *string, back *string, tags *[]string) (Card, error) {
	storageCard, err := s.Storage.GetCard(cardID)
	if err != nil {
		return Card{}, fmt.Errorf("error getting card %s: %w", cardID, err)
	}

	if (front != nil && *front == "") || (back != nil && *back == "") {
		return Card{}, storage.ErrEmptyCard
	}

	updated := false
	if front != nil && storageCard.Front != *front {
		storageCard.Front = *front
		updated = true
	}
	if back != nil && storageCard.Back != *back {
		storageCard.Back = *back
		updated = true
	}
	if tags != nil && !equalStringSlices(storageCard.Tags, *tags) {
		storageCard.Tags = *tags
		updated = true
	}

	// Only save if changes were actually made
	if updated {
		if err := s.Storage.UpdateCard(storageCard); err != nil {
			return Card{}, fmt.Errorf("error updating card %s in storage: %w", cardID, err)
		}
		if err := s.Storage.Save(); err != nil {
			return Card{}, fmt.Errorf("error saving storage after updating card %s: %w", cardID, err)
		}
		s.Logger.Debug("Card updated", zap.String("card_id", cardID))
	}

	state, graded, err := s.Storage.GetReviewState(s.Session.UserID(), cardID)
	if err != nil {
		return Card{}, fmt.Errorf("error getting review state of card %s: %w", cardID, err)
	}
	return toCard(storageCard, state, graded, timeNow()), nil
}

// equalStringSlices checks if two string slices are equal (considers order).
func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeleteCard deletes a flashcard together with its schedules and review log
func (s *FlashcardService) DeleteCard(cardID string) error {
	s.Logger.Debug("Starting DeleteCard", zap.String("card_id", cardID))
	if err := s.Storage.DeleteCard(cardID); err != nil {
		s.Logger.Error("Storage.DeleteCard returned error", zap.String("card_id", cardID), zap.Error(err))
		return fmt.Errorf("error deleting card: %w", err)
	}

	if err := s.Storage.Save(); err != nil {
		s.Logger.Error("Storage.Save() returned error after delete", zap.String("card_id", cardID), zap.Error(err))
		return fmt.Errorf("error saving storage: %w", err)
	}
	return nil
}

// ListCards lists all flashcards, optionally filtered by tags
func (s *FlashcardService) ListCards(filterTags []string, includeStats bool) ([]Card, CardStats, error) {
	s.Logger.Debug("Service ListCards called", zap.Strings("filterTags", filterTags), zap.Bool("includeStats", includeStats))
	storageCards, err := s.Storage.ListCards(filterTags)
	if err != nil {
		return nil, CardStats{}, fmt.Errorf("error listing cards from storage: %w", err)
	}
	states, err := s.Storage.ListReviewStates(s.Session.UserID())
	if err != nil {
		return nil, CardStats{}, fmt.Errorf("error listing review states: %w", err)
	}

	now := timeNow()
	cards := make([]Card, 0, len(storageCards))
	for _, storageCard := range storageCards {
		state, graded := states[storageCard.ID]
		cards = append(cards, toCard(storageCard, state, graded, now))
	}
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID < cards[j].ID
	})

	var stats CardStats
	if includeStats {
		// Stats always cover the whole collection, regardless of filter
		allStorageCards, err := s.Storage.ListCards(nil)
		if err != nil {
			s.Logger.Warn("Error getting all cards for stats calculation", zap.Error(err))
			stats = CardStats{TotalCards: len(storageCards)}
		} else {
			stats = s.calculateStats(allStorageCards)
		}
	}

	return cards, stats, nil
}

// calculateStats calculates statistics from card and review data
func (s *FlashcardService) calculateStats(cards []storage.Card) CardStats {
	now := timeNow()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	states, err := s.Storage.ListReviewStates(s.Session.UserID())
	if err != nil {
		s.Logger.Warn("Error listing review states for stats", zap.Error(err))
	}

	dueCards := 0
	reviewsToday := 0
	correctReviewsToday := 0
	for _, card := range cards {
		if state, graded := states[card.ID]; !graded || state.IsDue(now) {
			dueCards++
		}

		cardReviews, err := s.Storage.GetCardReviews(card.ID)
		if err != nil {
			continue
		}
		for _, review := range cardReviews {
			if review.UserID != s.Session.UserID() || review.Timestamp.Before(today) {
				continue
			}
			reviewsToday++
			if review.Quality.Passed() {
				correctReviewsToday++
			}
		}
	}

	// Retention is the share of today's reviews that were successful recalls
	retentionRate := 0.0
	if reviewsToday > 0 {
		retentionRate = float64(correctReviewsToday) / float64(reviewsToday) * 100.0
	}

	return CardStats{
		TotalCards:    len(cards),
		DueCards:      dueCards,
		ReviewsToday:  reviewsToday,
		RetentionRate: retentionRate,
	}
}

// StartSession loads the cards due now into a new session, highest review priority first.
// Cards must carry ANY of the tags (all cards when no tags are given). A limit of 0 or less
// loads every due card. An empty queue is not an error; the session simply has no card.
func (s *FlashcardService) StartSession(filterTags []string, limit int, mode session.Mode) (int, error) {
	s.Logger.Debug("StartSession called",
		zap.Strings("filterTags", filterTags),
		zap.Int("limit", limit),
		zap.Stringer("mode", mode))

	cards, err := s.Storage.ListCards(filterTags)
	if err != nil {
		return 0, fmt.Errorf("error listing cards: %w", err)
	}
	states, err := s.Storage.ListReviewStates(s.Session.UserID())
	if err != nil {
		return 0, fmt.Errorf("error listing review states: %w", err)
	}

	now := timeNow()
	type dueCard struct {
		card     storage.Card
		state    sm2.ReviewState
		graded   bool
		priority float64
	}
	var due []dueCard
	for _, card := range cards {
		state, graded := states[card.ID]
		if !graded {
			state = sm2.NewReviewState()
		} else if !state.IsDue(now) {
			continue
		}
		due = append(due, dueCard{
			card:     card,
			state:    state,
			graded:   graded,
			priority: s.Scheduler.ReviewPriority(state, now),
		})
	}

	// Highest priority first; older cards first among equals so the order is stable
	sort.Slice(due, func(i, j int) bool {
		if due[i].priority != due[j].priority {
			return due[i].priority > due[j].priority
		}
		if !due[i].card.CreatedAt.Equal(due[j].card.CreatedAt) {
			return due[i].card.CreatedAt.Before(due[j].card.CreatedAt)
		}
		return due[i].card.ID < due[j].card.ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	queue := make([]session.Card, 0, len(due))
	for _, d := range due {
		qc := session.Card{ID: d.card.ID, Front: d.card.Front, Back: d.card.Back}
		if d.graded {
			state := d.state
			qc.Schedule = &state
		}
		queue = append(queue, qc)
	}

	s.Session.SetMode(mode)
	s.Session.LoadQueue(queue)
	s.Session.StartTimer()

	s.Logger.Info("Review session started",
		zap.String("user_id", s.Session.UserID()),
		zap.Int("due_cards", len(queue)),
		zap.Stringer("mode", mode))
	return len(queue), nil
}

// CurrentCard returns the card the session points at
func (s *FlashcardService) CurrentCard() (session.Card, bool) {
	return s.Session.CurrentCard()
}

// queuedCard finds a card of the current session by ID
func (s *FlashcardService) queuedCard(cardID string) (session.Card, error) {
	for _, c := range s.Session.Queue() {
		if c.ID == cardID {
			return c, nil
		}
	}
	if s.Session.Status() == session.StatusIdle {
		return session.Card{}, session.ErrNoActiveSession
	}
	return session.Card{}, fmt.Errorf("%w: %s", session.ErrCardNotInQueue, cardID)
}

// SubmitAnswer records the user's answer and returns the queued card so its back can be revealed
func (s *FlashcardService) SubmitAnswer(cardID, answer string) (session.Card, error) {
	if err := s.Session.SubmitAnswer(cardID, answer); err != nil {
		return session.Card{}, err
	}
	s.Logger.Debug("Answer submitted", zap.String("card_id", cardID))
	return s.queuedCard(cardID)
}

// GradeCard grades a queued card, persists its new schedule and appends the grading to the
// review log. An answer that is given is recorded first so the card counts towards progress.
//
// A failed schedule write does not undo the grading: the result is returned together with
// a *session.PersistenceError. Review log failures are only logged.
func (s *FlashcardService) GradeCard(ctx context.Context, cardID string, quality sm2.Quality, grade sm2.Grade, answer string) (session.GradeResult, error) {
	s.Logger.Debug("GradeCard called",
		zap.String("card_id", cardID),
		zap.Int("quality", int(quality)),
		zap.String("grade", string(grade)))

	result, err := s.Session.Grade(ctx, cardID, quality)
	var persistErr *session.PersistenceError
	if err != nil && !errors.As(err, &persistErr) {
		return session.GradeResult{}, err
	}

	answers := s.Session.Answers()
	if _, answered := answers[cardID]; answer != "" || !answered {
		if err := s.Session.SubmitAnswer(cardID, answer); err != nil {
			s.Logger.Debug("Answer not recorded with grading", zap.String("card_id", cardID), zap.Error(err))
		} else {
			answers[cardID] = answer
		}
	}

	review := storage.Review{
		UserID:       s.Session.UserID(),
		CardID:       cardID,
		Quality:      quality,
		Grade:        grade,
		Answer:       answers[cardID],
		Timestamp:    result.State.LastReviewedAt,
		IntervalDays: result.State.IntervalDays,
		EaseFactor:   result.State.EaseFactor,
		Repetitions:  result.State.Repetitions,
	}
	if _, err := s.Storage.AddReview(review); err != nil {
		s.Logger.Warn("Failed to add review to log", zap.String("card_id", cardID), zap.Error(err))
	} else if err := s.Storage.Save(); err != nil {
		s.Logger.Warn("Failed to save review log", zap.String("card_id", cardID), zap.Error(err))
	}

	if persistErr != nil {
		return result, persistErr
	}
	return result, nil
}

// PreviewGrades returns the schedule each grading button would produce for a queued card
func (s *FlashcardService) PreviewGrades(cardID string) (sm2.Preview, error) {
	return s.Session.Preview(cardID)
}

// NextCard advances the session and returns the new current card, if any
func (s *FlashcardService) NextCard() (session.Card, bool, session.Status) {
	status := s.Session.Advance()
	card, ok := s.Session.CurrentCard()
	return card, ok, status
}

// Progress returns the session progress and refreshes the elapsed time
func (s *FlashcardService) Progress() (session.Progress, time.Duration) {
	return s.Session.Progress(), s.Session.Tick()
}

// Score returns the quiz score, or nil outside quiz mode
func (s *FlashcardService) Score() *QuizScore {
	if s.Session.Mode() != session.ModeQuiz {
		return nil
	}
	correct, answered := s.Session.Score()
	return &QuizScore{Correct: correct, Answered: answered}
}

// EndSession summarizes the session and returns the driver to idle
func (s *FlashcardService) EndSession() (SessionSummary, error) {
	if s.Session.Status() == session.StatusIdle {
		return SessionSummary{}, session.ErrNoActiveSession
	}

	progress, elapsed := s.Progress()
	summary := SessionSummary{
		Status:         s.Session.Status().String(),
		Progress:       progress,
		Graded:         len(s.Session.Gradings()),
		ElapsedSeconds: int(elapsed / time.Second),
		Score:          s.Score(),
	}
	s.Session.Reset()

	s.Logger.Info("Review session ended",
		zap.String("user_id", s.Session.UserID()),
		zap.Int("answered", summary.Progress.Completed),
		zap.Int("total", summary.Progress.Total),
		zap.Int("graded", summary.Graded),
		zap.Duration("elapsed", elapsed))
	return summary, nil
}
