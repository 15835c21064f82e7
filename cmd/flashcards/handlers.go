// Package main provides implementation for the flashcards MCP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danieldreier/mcp-review/internal/session"
	"github.com/danieldreier/mcp-review/internal/sm2"
	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult marshals a response as indented JSON text
func jsonResult(response interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// errorResult reports a failure to the client as {"error": "..."}
func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	jsonBytes, _ := json.MarshalIndent(map[string]string{"error": fmt.Sprintf(format, args...)}, "", "  ")
	return mcp.NewToolResultText(string(jsonBytes))
}

// stringSliceArg extracts an array of strings, skipping non-string entries
func stringSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, false
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return values, true
}

func sessionCard(c session.Card, ok bool) *SessionCard {
	if !ok {
		return nil
	}
	return &SessionCard{ID: c.ID, Front: c.Front, Schedule: c.Schedule}
}

// handleCreateCard handles the create_card tool request by creating a new flashcard
// with the provided front and back content and optional tags.
func handleCreateCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	front, ok := request.Params.Arguments["front"].(string)
	if !ok {
		return errorResult("Missing required parameter: front"), nil
	}
	back, ok := request.Params.Arguments["back"].(string)
	if !ok {
		return errorResult("Missing required parameter: back"), nil
	}
	tags, _ := stringSliceArg(request.Params.Arguments, "tags")

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	card, err := s.CreateCard(front, back, tags)
	if err != nil {
		return errorResult("Error creating card: %v", err), nil
	}

	return jsonResult(CreateCardResponse{Card: card})
}

// handleUpdateCard handles the update_card tool request. Only the fields present in the
// request are changed, allowing for partial updates.
func handleUpdateCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, ok := request.Params.Arguments["card_id"].(string)
	if !ok {
		return errorResult("Missing required parameter: card_id"), nil
	}

	var front, back *string
	if v, ok := request.Params.Arguments["front"].(string); ok {
		front = &v
	}
	if v, ok := request.Params.Arguments["back"].(string); ok {
		back = &v
	}
	var tags *[]string
	if v, ok := stringSliceArg(request.Params.Arguments, "tags"); ok {
		tags = &v
	}

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	card, err := s.UpdateCard(cardID, front, back, tags)
	if err != nil {
		return errorResult("Error updating card: %v", err), nil
	}

	return jsonResult(UpdateCardResponse{
		Success: true,
		Message: fmt.Sprintf("Card %s updated successfully", cardID),
		Card:    card,
	})
}

// handleDeleteCard handles the delete_card tool request by removing a flashcard,
// its schedules and its review log.
func handleDeleteCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, ok := request.Params.Arguments["card_id"].(string)
	if !ok {
		return errorResult("Missing required parameter: card_id"), nil
	}

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	if err := s.DeleteCard(cardID); err != nil {
		return errorResult("Error deleting card: %v", err), nil
	}

	return jsonResult(DeleteCardResponse{
		Success: true,
		Message: fmt.Sprintf("Card %s was successfully deleted", cardID),
	})
}

// handleListCards handles the list_cards tool request by retrieving all flashcards,
// optionally filtered by tags. It can also include statistics in the response if requested.
func handleListCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filterTags, _ := stringSliceArg(request.Params.Arguments, "tags")
	includeStats, _ := request.Params.Arguments["include_stats"].(bool)

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	cards, stats, err := s.ListCards(filterTags, includeStats)
	if err != nil {
		return errorResult("Error listing cards: %v", err), nil
	}

	response := ListCardsResponse{Cards: cards}
	if includeStats {
		response.Stats = &stats
	}
	return jsonResult(response)
}

// handleStartSession handles the start_session tool request by queueing the due cards
// and returning the first one, question side only.
func handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filterTags, _ := stringSliceArg(request.Params.Arguments, "tags")

	limit := 0
	if v, ok := request.Params.Arguments["limit"].(float64); ok {
		if v < 0 || v != math.Trunc(v) {
			return errorResult("limit must be a non-negative integer"), nil
		}
		limit = int(v)
	}

	modeName, _ := request.Params.Arguments["mode"].(string)
	mode, err := session.ParseMode(modeName)
	if err != nil {
		return errorResult("%v", err), nil
	}

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	total, err := s.StartSession(filterTags, limit, mode)
	if err != nil {
		return errorResult("Error starting session: %v", err), nil
	}

	allCards, err := s.Storage.ListCards(nil)
	if err != nil {
		return errorResult("Error listing cards: %v", err), nil
	}

	response := StartSessionResponse{
		Mode:     mode.String(),
		Total:    total,
		Card:     sessionCard(s.CurrentCard()),
		Progress: s.Session.Progress(),
		Stats:    s.calculateStats(allCards),
	}
	if total == 0 {
		if len(filterTags) > 0 {
			response.Message = fmt.Sprintf("No cards due for review with the specified tags: %v", filterTags)
		} else {
			response.Message = "No cards due for review"
		}
	}
	return jsonResult(response)
}

// handleGetCurrentCard handles the get_current_card tool request
func handleGetCurrentCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	return jsonResult(CurrentCardResponse{
		Status:   s.Session.Status().String(),
		Card:     sessionCard(s.CurrentCard()),
		Progress: s.Session.Progress(),
	})
}

// handleSubmitAnswer handles the submit_answer tool request by recording the student's
// answer and revealing the back of the card. Quiz sessions also report correctness.
func handleSubmitAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, ok := request.Params.Arguments["card_id"].(string)
	if !ok {
		return errorResult("Missing required parameter: card_id"), nil
	}
	answer, ok := request.Params.Arguments["answer"].(string)
	if !ok {
		return errorResult("Missing required parameter: answer"), nil
	}

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	card, err := s.SubmitAnswer(cardID, answer)
	if err != nil {
		return errorResult("Error submitting answer: %v", err), nil
	}

	response := SubmitAnswerResponse{
		CardID:        cardID,
		Answer:        answer,
		CorrectAnswer: card.Back,
		Progress:      s.Session.Progress(),
	}
	if s.Session.Mode() == session.ModeQuiz {
		correct, _ := s.Session.CheckAnswer(cardID)
		response.Correct = &correct
	}
	return jsonResult(response)
}

// gradeArg resolves the grading of a grade_card request. A grade button name takes
// precedence over a numeric quality.
func gradeArg(args map[string]interface{}) (sm2.Quality, sm2.Grade, error) {
	if name, ok := args["grade"].(string); ok && name != "" {
		grade, err := sm2.ParseGrade(name)
		if err != nil {
			return 0, "", err
		}
		q, err := grade.Quality()
		return q, grade, err
	}
	v, ok := args["quality"].(float64)
	if !ok {
		return 0, "", errors.New("one of grade or quality is required")
	}
	if v != math.Trunc(v) {
		return 0, "", fmt.Errorf("%w: quality must be a whole number, got %v", sm2.ErrInvalidArgument, v)
	}
	return sm2.Quality(v), "", nil
}

// handleGradeCard handles the grade_card tool request by scheduling the card with SM-2.
// A failure to persist the schedule is reported as a warning; the session continues.
func handleGradeCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, ok := request.Params.Arguments["card_id"].(string)
	if !ok {
		return errorResult("Missing required parameter: card_id"), nil
	}
	quality, grade, err := gradeArg(request.Params.Arguments)
	if err != nil {
		return errorResult("Invalid grading: %v", err), nil
	}
	answer, _ := request.Params.Arguments["answer"].(string)

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	result, err := s.GradeCard(ctx, cardID, quality, grade, answer)
	response := GradeCardResponse{
		CardID:    cardID,
		Grade:     grade,
		Quality:   quality,
		Schedule:  result.State,
		Persisted: true,
	}
	if err != nil {
		if !errors.Is(err, session.ErrPersistence) {
			return errorResult("Error grading card: %v", err), nil
		}
		response.Persisted = false
		response.Warning = fmt.Sprintf("Schedule was not saved and will be lost after this session: %v", err)
	}
	return jsonResult(response)
}

// handlePreviewGrades handles the preview_grades tool request by showing the schedule
// each grading button would produce, without changing anything.
func handlePreviewGrades(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cardID, ok := request.Params.Arguments["card_id"].(string)
	if !ok {
		return errorResult("Missing required parameter: card_id"), nil
	}

	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	preview, err := s.PreviewGrades(cardID)
	if err != nil {
		return errorResult("Error previewing grades: %v", err), nil
	}
	return jsonResult(PreviewGradesResponse{CardID: cardID, Preview: preview})
}

// handleNextCard handles the next_card tool request by advancing the session
func handleNextCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}
	if s.Session.Status() == session.StatusIdle {
		return errorResult("%v", session.ErrNoActiveSession), nil
	}

	card, hasCard, status := s.NextCard()
	return jsonResult(CurrentCardResponse{
		Status:   status.String(),
		Card:     sessionCard(card, hasCard),
		Progress: s.Session.Progress(),
	})
}

// handleSessionProgress handles the session_progress tool request
func handleSessionProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	progress, elapsed := s.Progress()
	return jsonResult(SessionProgressResponse{
		Status:         s.Session.Status().String(),
		Mode:           s.Session.Mode().String(),
		Progress:       progress,
		ElapsedSeconds: int(elapsed / time.Second),
		Score:          s.Score(),
	})
}

// handleEndSession handles the end_session tool request by summarizing and closing the session
func handleEndSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return errorResult("Service not available"), nil
	}

	summary, err := s.EndSession()
	if err != nil {
		return errorResult("Error ending session: %v", err), nil
	}
	return jsonResult(summary)
}
