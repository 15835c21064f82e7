package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danieldreier/mcp-review/internal/session"
	"github.com/danieldreier/mcp-review/internal/sm2"
	"github.com/danieldreier/mcp-review/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Function to temporarily mock the time.Now function for testing
func mockTimeNow(mockTime time.Time) func() {
	original := timeNow
	timeNow = func() time.Time {
		return mockTime
	}
	return func() {
		timeNow = original
	}
}

var serviceNow = time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC)

// Helper function to create a service with a temporary storage file
func setupTestService(t *testing.T) (*FlashcardService, *storage.FileStorage) {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "flashcards-service-test.json")
	fileStorage := storage.NewFileStorage(filePath, nil)
	require.NoError(t, fileStorage.Load(), "Failed to initialize storage")
	return NewFlashcardService(fileStorage, "student", nil), fileStorage
}

// failingUpsertStorage is a Storage whose schedule writes always fail
type failingUpsertStorage struct {
	storage.Storage
	err error
}

func (f failingUpsertStorage) UpsertReviewState(ctx context.Context, userID, cardID string, state sm2.ReviewState) error {
	return f.err
}

func queueIDs(s *FlashcardService) []string {
	var ids []string
	for _, c := range s.Session.Queue() {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestStartSessionOrdersDueCards(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, store := setupTestService(t)
	ctx := context.Background()

	newCard, err := service.CreateCard("new", "card", nil)
	require.NoError(t, err)
	lapsed, err := service.CreateCard("lapsed", "card", nil)
	require.NoError(t, err)
	reviewing, err := service.CreateCard("reviewing", "card", nil)
	require.NoError(t, err)
	future, err := service.CreateCard("future", "card", nil)
	require.NoError(t, err)

	require.NoError(t, store.UpsertReviewState(ctx, "student", lapsed.ID, sm2.ReviewState{
		IntervalDays: 1, EaseFactor: 2.3, Repetitions: 0,
		NextReviewAt:   serviceNow.AddDate(0, 0, -2),
		LastReviewedAt: serviceNow.AddDate(0, 0, -3),
	}))
	require.NoError(t, store.UpsertReviewState(ctx, "student", reviewing.ID, sm2.ReviewState{
		IntervalDays: 6, EaseFactor: 2.5, Repetitions: 2,
		NextReviewAt:   serviceNow.AddDate(0, 0, -1),
		LastReviewedAt: serviceNow.AddDate(0, 0, -7),
	}))
	require.NoError(t, store.UpsertReviewState(ctx, "student", future.ID, sm2.ReviewState{
		IntervalDays: 15, EaseFactor: 2.5, Repetitions: 3,
		NextReviewAt:   serviceNow.AddDate(0, 0, 3),
		LastReviewedAt: serviceNow.AddDate(0, 0, -12),
	}))
	// Another user's schedule does not affect this user's queue
	require.NoError(t, store.UpsertReviewState(ctx, "someone-else", newCard.ID, sm2.ReviewState{
		IntervalDays: 6, EaseFactor: 2.5, Repetitions: 2,
		NextReviewAt:   serviceNow.AddDate(0, 0, 5),
		LastReviewedAt: serviceNow.AddDate(0, 0, -1),
	}))

	total, err := service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{lapsed.ID, reviewing.ID, newCard.ID}, queueIDs(service),
		"lapsed cards first, then overdue reviews, then new cards")

	current, ok := service.CurrentCard()
	require.True(t, ok)
	assert.Equal(t, lapsed.ID, current.ID)
	require.NotNil(t, current.Schedule)
	assert.Equal(t, 1, current.Schedule.IntervalDays)
	assert.Equal(t, serviceNow, service.Session.StartedAt())

	total, err = service.StartSession(nil, 2, session.ModeFlashcard)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{lapsed.ID, reviewing.ID}, queueIDs(service))
}

func TestStartSessionFiltersByAnyTag(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, _ := setupTestService(t)

	math1, _ := service.CreateCard("2+2", "4", []string{"math"})
	geo, _ := service.CreateCard("capital of France", "Paris", []string{"geography"})
	_, _ = service.CreateCard("H2O", "water", []string{"chemistry"})

	total, err := service.StartSession([]string{"math", "geography"}, 0, session.ModeFlashcard)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.ElementsMatch(t, []string{math1.ID, geo.ID}, queueIDs(service))

	total, err = service.StartSession([]string{"history"}, 0, session.ModeFlashcard)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, session.StatusActive, service.Session.Status())
	_, ok := service.CurrentCard()
	assert.False(t, ok, "empty session has no current card")
}

func TestGradeCardSchedulesAndLogs(t *testing.T) {
	restore := mockTimeNow(serviceNow)
	defer func() { restore() }()
	service, store := setupTestService(t)
	ctx := context.Background()

	card, err := service.CreateCard("capital of France", "Paris", nil)
	require.NoError(t, err)

	_, err = service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)

	revealed, err := service.SubmitAnswer(card.ID, "paris")
	require.NoError(t, err)
	assert.Equal(t, "Paris", revealed.Back)

	result, err := service.GradeCard(ctx, card.ID, 4, sm2.GradeGood, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.State.IntervalDays)
	assert.Equal(t, 1, result.State.Repetitions)
	assert.InDelta(t, 2.5, result.State.EaseFactor, 1e-9)
	assert.Equal(t, serviceNow.AddDate(0, 0, 1), result.State.NextReviewAt)

	stored, ok, err := store.GetReviewState("student", card.ID)
	require.NoError(t, err)
	require.True(t, ok, "schedule should be persisted")
	assert.Equal(t, result.State.IntervalDays, stored.IntervalDays)

	reviews, err := store.GetCardReviews(card.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, sm2.Quality(4), reviews[0].Quality)
	assert.Equal(t, sm2.GradeGood, reviews[0].Grade)
	assert.Equal(t, "paris", reviews[0].Answer, "the submitted answer is logged")
	assert.Equal(t, "student", reviews[0].UserID)
	assert.Equal(t, serviceNow, reviews[0].Timestamp)

	// Not due again on the same day
	total, err := service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// One day later it is back with its schedule, and good moves it to six days
	restore()
	restore = mockTimeNow(serviceNow.AddDate(0, 0, 1))
	total, err = service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	result, err = service.GradeCard(ctx, card.ID, 4, sm2.GradeGood, "Paris")
	require.NoError(t, err)
	assert.Equal(t, 6, result.State.IntervalDays)
	assert.Equal(t, 2, result.State.Repetitions)
	assert.Equal(t, session.Progress{Completed: 1, Total: 1, Percentage: 100}, service.Session.Progress(),
		"an answer given with the grading counts towards progress")
}

func TestGradeCardAfterLastCard(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, store := setupTestService(t)
	ctx := context.Background()

	card, err := service.CreateCard("2+2", "4", nil)
	require.NoError(t, err)
	_, err = service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)

	_, ok, status := service.NextCard()
	assert.False(t, ok)
	require.Equal(t, session.StatusCompleted, status)

	result, err := service.GradeCard(ctx, card.ID, 4, sm2.GradeGood, "4")
	require.NoError(t, err)
	assert.Equal(t, 1, result.State.IntervalDays)
	assert.Equal(t, session.StatusCompleted, service.Session.Status())
	assert.Equal(t, session.Progress{Completed: 1, Total: 1, Percentage: 100}, service.Session.Progress(),
		"a card graded after the last next_card still counts towards progress")

	reviews, err := store.GetCardReviews(card.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "4", reviews[0].Answer)

	summary, err := service.EndSession()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Graded)
	assert.Equal(t, 1, summary.Progress.Completed)
}

func TestGradeCardRejectsInvalidQuality(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, store := setupTestService(t)

	card, _ := service.CreateCard("front", "back", nil)
	_, err := service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)

	_, err = service.GradeCard(context.Background(), card.ID, 6, "", "")
	assert.ErrorIs(t, err, sm2.ErrInvalidArgument)

	_, ok, _ := store.GetReviewState("student", card.ID)
	assert.False(t, ok, "nothing is persisted for a rejected grading")
	reviews, _ := store.GetCardReviews(card.ID)
	assert.Empty(t, reviews)
	assert.Equal(t, 0, service.Session.Progress().Completed)
}

func TestGradeCardPersistenceFailureIsNotFatal(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	_, fileStorage := setupTestService(t)
	diskFull := errors.New("disk full")
	service := NewFlashcardService(failingUpsertStorage{Storage: fileStorage, err: diskFull}, "student", nil)

	card, err := service.CreateCard("front", "back", nil)
	require.NoError(t, err)
	_, err = service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)

	result, err := service.GradeCard(context.Background(), card.ID, 5, sm2.GradeEasy, "back")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrPersistence)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, 1, result.State.Repetitions, "the grading still took effect")
	assert.InDelta(t, 2.6, result.State.EaseFactor, 1e-9)

	gradings := service.Session.Gradings()
	assert.Equal(t, result.State, gradings[card.ID])

	// The session continues
	_, _, status := service.NextCard()
	assert.Equal(t, session.StatusCompleted, status)
}

func TestQuizSession(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, store := setupTestService(t)

	c1, _ := service.CreateCard("capital of France", "Paris", nil)
	c2, _ := service.CreateCard("H2O", "water", nil)

	_, err := service.StartSession(nil, 0, session.ModeQuiz)
	require.NoError(t, err)

	_, err = service.SubmitAnswer(c1.ID, "  paris ")
	require.NoError(t, err)
	_, err = service.SubmitAnswer(c2.ID, "fire")
	require.NoError(t, err)

	_, err = service.GradeCard(context.Background(), c1.ID, 4, sm2.GradeGood, "")
	assert.ErrorIs(t, err, session.ErrWrongMode)

	assert.Equal(t, &QuizScore{Correct: 1, Answered: 2}, service.Score())

	states, err := store.ListReviewStates("student")
	require.NoError(t, err)
	assert.Empty(t, states, "quiz sessions do not schedule")
}

func TestEndSession(t *testing.T) {
	restore := mockTimeNow(serviceNow)
	defer func() { restore() }()
	service, _ := setupTestService(t)

	_, err := service.EndSession()
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	c1, _ := service.CreateCard("q1", "a1", nil)
	_, _ = service.CreateCard("q2", "a2", nil)
	_, err = service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	_, err = service.GradeCard(context.Background(), c1.ID, 3, sm2.GradeHard, "a1")
	require.NoError(t, err)

	restore()
	restore = mockTimeNow(serviceNow.Add(90 * time.Second))

	summary, err := service.EndSession()
	require.NoError(t, err)
	assert.Equal(t, "active", summary.Status)
	assert.Equal(t, session.Progress{Completed: 1, Total: 2, Percentage: 50}, summary.Progress)
	assert.Equal(t, 1, summary.Graded)
	assert.Equal(t, 90, summary.ElapsedSeconds)
	assert.Nil(t, summary.Score)

	assert.Equal(t, session.StatusIdle, service.Session.Status())
}

func TestUpdateCard(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, _ := setupTestService(t)

	card, err := service.CreateCard("Original Front", "Original Back", []string{"tag1"})
	require.NoError(t, err)

	newFront := "Updated Front"
	updated, err := service.UpdateCard(card.ID, &newFront, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Updated Front", updated.Front)
	assert.Equal(t, "Original Back", updated.Back, "fields that are not given stay unchanged")
	assert.Equal(t, []string{"tag1"}, updated.Tags)

	tags := []string{"tag2", "tag3"}
	updated, err = service.UpdateCard(card.ID, nil, nil, &tags)
	require.NoError(t, err)
	assert.Equal(t, tags, updated.Tags)

	empty := ""
	_, err = service.UpdateCard(card.ID, nil, &empty, nil)
	assert.ErrorIs(t, err, storage.ErrEmptyCard)

	_, err = service.UpdateCard("missing", &newFront, nil, nil)
	assert.ErrorIs(t, err, storage.ErrCardNotFound)
}

func TestDeleteCard(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, store := setupTestService(t)

	card, _ := service.CreateCard("front", "back", nil)
	_, err := service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	_, err = service.GradeCard(context.Background(), card.ID, 4, sm2.GradeGood, "back")
	require.NoError(t, err)

	require.NoError(t, service.DeleteCard(card.ID))
	_, ok, _ := store.GetReviewState("student", card.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, service.DeleteCard(card.ID), storage.ErrCardNotFound)
}

func TestListCardsWithStats(t *testing.T) {
	defer mockTimeNow(serviceNow)()
	service, _ := setupTestService(t)
	ctx := context.Background()

	good, _ := service.CreateCard("q1", "a1", []string{"set-a"})
	again, _ := service.CreateCard("q2", "a2", []string{"set-a"})
	_, _ = service.CreateCard("q3", "a3", []string{"set-b"})

	_, err := service.StartSession(nil, 0, session.ModeFlashcard)
	require.NoError(t, err)
	_, err = service.GradeCard(ctx, good.ID, 4, sm2.GradeGood, "a1")
	require.NoError(t, err)
	_, err = service.GradeCard(ctx, again.ID, 0, sm2.GradeAgain, "")
	require.NoError(t, err)

	cards, stats, err := service.ListCards([]string{"set-a"}, true)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	for _, c := range cards {
		require.NotNil(t, c.Schedule, "graded cards carry their schedule")
		assert.False(t, c.Due)
	}

	assert.Equal(t, CardStats{
		TotalCards:    3,
		DueCards:      1,
		ReviewsToday:  2,
		RetentionRate: 50,
	}, stats)

	cards, _, err = service.ListCards([]string{"set-b"}, false)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Nil(t, cards[0].Schedule)
	assert.True(t, cards[0].Due, "new cards are due")
}
