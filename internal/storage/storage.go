package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danieldreier/mcp-review/internal/sm2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Card represents a flashcard in storage
type Card struct {
	ID        string    `json:"id"`
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// ScheduleRecord is the persisted review state of one card for one user.
type ScheduleRecord struct {
	UserID    string          `json:"user_id"`
	CardID    string          `json:"card_id"`
	State     sm2.ReviewState `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Review represents one grading event in the review log
type Review struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	CardID       string      `json:"card_id"`
	Quality      sm2.Quality `json:"quality"`
	Grade        sm2.Grade   `json:"grade,omitempty"`
	Answer       string      `json:"answer,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	IntervalDays int         `json:"interval_days"`
	EaseFactor   float64     `json:"ease_factor"`
	Repetitions  int         `json:"repetitions"`
}

// FlashcardStore represents the data structure stored in the JSON file
type FlashcardStore struct {
	Cards       map[string]Card           `json:"cards"`
	Schedules   map[string]ScheduleRecord `json:"schedules"`
	Reviews     []Review                  `json:"reviews"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// ErrCardNotFound is returned when a card is not found in the storage
var ErrCardNotFound = errors.New("card not found")

// ErrEmptyCard is returned when a card is created without front or back text
var ErrEmptyCard = errors.New("card front and back must not be empty")

// Storage represents the storage interface for flashcards
type Storage interface {
	// Card operations
	CreateCard(front, back string, tags []string) (Card, error)
	GetCard(id string) (Card, error)
	UpdateCard(card Card) error
	DeleteCard(id string) error
	ListCards(tags []string) ([]Card, error)

	// Review state operations, keyed by (user, card)
	GetReviewState(userID, cardID string) (sm2.ReviewState, bool, error)
	ListReviewStates(userID string) (map[string]sm2.ReviewState, error)
	UpsertReviewState(ctx context.Context, userID, cardID string, state sm2.ReviewState) error

	// Review log operations
	AddReview(review Review) (Review, error)
	GetCardReviews(cardID string) ([]Review, error)

	// File operations
	Load() error
	Save() error
}

// FileStorage implements the Storage interface using a JSON file for persistence
type FileStorage struct {
	filePath string
	store    FlashcardStore
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewFileStorage creates a new FileStorage instance. A nil logger disables logging.
func NewFileStorage(filePath string, logger *zap.Logger) *FileStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Creating new FileStorage", zap.String("path", filePath))
	return &FileStorage{
		filePath: filePath,
		store:    emptyStore(),
		logger:   logger,
	}
}

func emptyStore() FlashcardStore {
	return FlashcardStore{
		Cards:     make(map[string]Card),
		Schedules: make(map[string]ScheduleRecord),
		Reviews:   []Review{},
	}
}

// scheduleKey prefixes the user ID with its length, so no pair of IDs can
// produce the key of another pair whatever characters they contain.
func scheduleKey(userID, cardID string) string {
	return fmt.Sprintf("%d:%s/%s", len(userID), userID, cardID)
}

// CreateCard creates a new flashcard
func (fs *FileStorage) CreateCard(front, back string, tags []string) (Card, error) {
	if front == "" || back == "" {
		return Card{}, ErrEmptyCard
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	card := Card{
		ID:        uuid.New().String(),
		Front:     front,
		Back:      back,
		CreatedAt: now,
		Tags:      tags,
	}

	fs.store.Cards[card.ID] = card
	fs.store.LastUpdated = now

	return card, nil
}

// GetCard retrieves a flashcard by ID
func (fs *FileStorage) GetCard(id string) (Card, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	card, exists := fs.store.Cards[id]
	if !exists {
		return Card{}, ErrCardNotFound
	}

	return card, nil
}

// UpdateCard updates an existing flashcard
func (fs *FileStorage) UpdateCard(card Card) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[card.ID]; !exists {
		return ErrCardNotFound
	}

	fs.store.Cards[card.ID] = card
	fs.store.LastUpdated = time.Now()

	return nil
}

// DeleteCard deletes a flashcard by ID together with its review states and log
func (fs *FileStorage) DeleteCard(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[id]; !exists {
		return ErrCardNotFound
	}

	delete(fs.store.Cards, id)
	for key, rec := range fs.store.Schedules {
		if rec.CardID == id {
			delete(fs.store.Schedules, key)
		}
	}
	kept := fs.store.Reviews[:0]
	for _, r := range fs.store.Reviews {
		if r.CardID != id {
			kept = append(kept, r)
		}
	}
	fs.store.Reviews = kept
	fs.store.LastUpdated = time.Now()

	return nil
}

// ListCards returns a list of all flashcards, optionally filtered by tags (must contain ANY of the tags)
func (fs *FileStorage) ListCards(tags []string) ([]Card, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	result := make([]Card, 0, len(fs.store.Cards))
	for _, card := range fs.store.Cards {
		if hasAnyTag(&card, tags) {
			result = append(result, card)
		}
	}

	return result, nil
}

// hasAnyTag checks if a card has any of the specified tags (OR logic).
func hasAnyTag(card *Card, requiredTags []string) bool {
	if len(requiredTags) == 0 {
		return true // No filter means match
	}
	if card == nil || card.Tags == nil {
		return false
	}

	cardTagsMap := make(map[string]bool, len(card.Tags))
	for _, tag := range card.Tags {
		cardTagsMap[tag] = true
	}
	for _, reqTag := range requiredTags {
		if cardTagsMap[reqTag] {
			return true
		}
	}

	return false
}

// GetReviewState returns the stored state for (userID, cardID). ok is false
// when the card has never been graded by the user; that is not an error.
func (fs *FileStorage) GetReviewState(userID, cardID string) (sm2.ReviewState, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	rec, ok := fs.store.Schedules[scheduleKey(userID, cardID)]
	if !ok {
		return sm2.ReviewState{}, false, nil
	}
	return rec.State, true, nil
}

// ListReviewStates returns every stored state of userID keyed by card ID.
func (fs *FileStorage) ListReviewStates(userID string) (map[string]sm2.ReviewState, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	states := make(map[string]sm2.ReviewState)
	for _, rec := range fs.store.Schedules {
		if rec.UserID == userID {
			states[rec.CardID] = rec.State
		}
	}
	return states, nil
}

// UpsertReviewState replaces the state for (userID, cardID) and writes the
// file. Last write wins. On a failed write the in-memory state is rolled back
// so a retry starts from the same point.
func (fs *FileStorage) UpsertReviewState(ctx context.Context, userID, cardID string, state sm2.ReviewState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[cardID]; !exists {
		return ErrCardNotFound
	}

	key := scheduleKey(userID, cardID)
	previous, existed := fs.store.Schedules[key]
	fs.store.Schedules[key] = ScheduleRecord{
		UserID:    userID,
		CardID:    cardID,
		State:     state,
		UpdatedAt: time.Now(),
	}

	if err := fs.save(); err != nil {
		if existed {
			fs.store.Schedules[key] = previous
		} else {
			delete(fs.store.Schedules, key)
		}
		return err
	}

	fs.logger.Debug("Review state upserted",
		zap.String("user_id", userID),
		zap.String("card_id", cardID),
		zap.Int("interval_days", state.IntervalDays),
		zap.Time("next_review_at", state.NextReviewAt))
	return nil
}

// AddReview appends a grading event to the review log. An empty ID is filled in.
func (fs *FileStorage) AddReview(review Review) (Review, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[review.CardID]; !exists {
		return Review{}, ErrCardNotFound
	}

	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	if review.Timestamp.IsZero() {
		review.Timestamp = time.Now()
	}

	fs.store.Reviews = append(fs.store.Reviews, review)
	fs.store.LastUpdated = time.Now()

	return review, nil
}

// GetCardReviews gets all reviews for a specific card
func (fs *FileStorage) GetCardReviews(cardID string) ([]Review, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if _, exists := fs.store.Cards[cardID]; !exists {
		return nil, ErrCardNotFound
	}

	var cardReviews []Review
	for _, review := range fs.store.Reviews {
		if review.CardID == cardID {
			cardReviews = append(cardReviews, review)
		}
	}

	return cardReviews, nil
}

// save is the internal helper for saving data without acquiring the lock again.
// Assumes the lock (write lock) is already held.
func (fs *FileStorage) save() error {
	normalizeStore(&fs.store)
	fs.store.LastUpdated = time.Now()

	dataBytes, err := json.MarshalIndent(fs.store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file, then rename over the target (atomic on most systems)
	tempFile := fs.filePath + ".tmp"
	if err := os.WriteFile(tempFile, dataBytes, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, fs.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	fs.logger.Debug("Storage saved",
		zap.String("path", fs.filePath),
		zap.Int("cards", len(fs.store.Cards)),
		zap.Int("schedules", len(fs.store.Schedules)),
		zap.Int("reviews", len(fs.store.Reviews)))
	return nil
}

// normalizeStore initializes maps/slices that are nil (e.g. after loading an older format)
func normalizeStore(store *FlashcardStore) {
	if store.Cards == nil {
		store.Cards = make(map[string]Card)
	}
	if store.Schedules == nil {
		store.Schedules = make(map[string]ScheduleRecord)
	}
	if store.Reviews == nil {
		store.Reviews = []Review{}
	}
}

// rekeySchedules files every schedule record under the key its own IDs produce,
// so files written with an older key layout stay readable.
func rekeySchedules(store *FlashcardStore) {
	schedules := make(map[string]ScheduleRecord, len(store.Schedules))
	for _, rec := range store.Schedules {
		schedules[scheduleKey(rec.UserID, rec.CardID)] = rec
	}
	store.Schedules = schedules
}

// Load loads the flashcards data from the file
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		fs.logger.Info("Storage file not found, initializing empty store", zap.String("path", fs.filePath))
		fs.store = emptyStore()
		// Save the empty structure so the file exists
		if saveErr := fs.save(); saveErr != nil {
			return fmt.Errorf("failed to save initial empty store: %w", saveErr)
		}
		return nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	if len(data) == 0 {
		fs.logger.Info("Storage file is empty, initializing empty store", zap.String("path", fs.filePath))
		fs.store = emptyStore()
		return nil
	}

	var store FlashcardStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}
	normalizeStore(&store)
	rekeySchedules(&store)

	fs.store = store
	fs.logger.Debug("Storage loaded",
		zap.String("path", fs.filePath),
		zap.Int("cards", len(fs.store.Cards)),
		zap.Int("schedules", len(fs.store.Schedules)),
		zap.Int("reviews", len(fs.store.Reviews)))
	return nil
}

// Save saves the flashcards data to the file atomically.
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}
