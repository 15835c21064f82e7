// Package main provides implementation for the flashcards MCP service.
package main

import (
	"time"

	"github.com/danieldreier/mcp-review/internal/session"
	"github.com/danieldreier/mcp-review/internal/sm2"
)

// Card represents a flashcard with content and the user's SM-2 schedule
type Card struct {
	ID        string    `json:"id"`
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
	// Schedule is nil until the card has been graded once
	Schedule *sm2.ReviewState `json:"schedule,omitempty"`
	Due      bool             `json:"due"`
}

// CardStats represents statistics for flashcard review
type CardStats struct {
	TotalCards    int     `json:"total_cards"`
	DueCards      int     `json:"due_cards"`
	ReviewsToday  int     `json:"reviews_today"`
	RetentionRate float64 `json:"retention_rate"`
}

// SessionCard is the question side of a queued card. The back is only revealed
// after an answer was submitted.
type SessionCard struct {
	ID       string           `json:"id"`
	Front    string           `json:"front"`
	Schedule *sm2.ReviewState `json:"schedule,omitempty"`
}

// QuizScore counts correct answers in a quiz session
type QuizScore struct {
	Correct  int `json:"correct"`
	Answered int `json:"answered"`
}

// SessionSummary describes a session when it is ended
type SessionSummary struct {
	Status         string           `json:"status"`
	Progress       session.Progress `json:"progress"`
	Graded         int              `json:"graded"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	Score          *QuizScore       `json:"score,omitempty"`
}

// CreateCardResponse represents the response structure for create_card
type CreateCardResponse struct {
	Card Card `json:"card"`
}

// UpdateCardResponse represents the response structure for update_card
type UpdateCardResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Card    Card   `json:"card"`
}

// DeleteCardResponse represents the response structure for delete_card
type DeleteCardResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListCardsResponse represents the response structure for list_cards
type ListCardsResponse struct {
	Cards []Card     `json:"cards"`
	Stats *CardStats `json:"stats,omitempty"`
}

// StartSessionResponse represents the response structure for start_session
type StartSessionResponse struct {
	Mode     string           `json:"mode"`
	Total    int              `json:"total"`
	Message  string           `json:"message,omitempty"`
	Card     *SessionCard     `json:"card,omitempty"`
	Progress session.Progress `json:"progress"`
	Stats    CardStats        `json:"stats"`
}

// CurrentCardResponse represents the response structure for get_current_card and next_card
type CurrentCardResponse struct {
	Status   string           `json:"status"`
	Card     *SessionCard     `json:"card,omitempty"`
	Progress session.Progress `json:"progress"`
}

// SubmitAnswerResponse represents the response structure for submit_answer
type SubmitAnswerResponse struct {
	CardID        string           `json:"card_id"`
	Answer        string           `json:"answer"`
	CorrectAnswer string           `json:"correct_answer"`
	Correct       *bool            `json:"correct,omitempty"`
	Progress      session.Progress `json:"progress"`
}

// GradeCardResponse represents the response structure for grade_card
type GradeCardResponse struct {
	CardID    string          `json:"card_id"`
	Grade     sm2.Grade       `json:"grade,omitempty"`
	Quality   sm2.Quality     `json:"quality"`
	Schedule  sm2.ReviewState `json:"schedule"`
	Persisted bool            `json:"persisted"`
	Warning   string          `json:"warning,omitempty"`
}

// PreviewGradesResponse represents the response structure for preview_grades
type PreviewGradesResponse struct {
	CardID  string      `json:"card_id"`
	Preview sm2.Preview `json:"preview"`
}

// SessionProgressResponse represents the response structure for session_progress
type SessionProgressResponse struct {
	Status         string           `json:"status"`
	Mode           string           `json:"mode"`
	Progress       session.Progress `json:"progress"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	Score          *QuizScore       `json:"score,omitempty"`
}
