package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danieldreier/mcp-review/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const flashcardsServerInfo = `
This is a spaced repetition flashcard system that schedules reviews with the SM-2 algorithm.
When using this server, always follow this review session workflow:

1. START PHASE:
   - Call start_session to queue the cards that are due, optionally filtered by tags
   - Use mode "quiz" for a scored practice round that does not change any schedule
   - If nothing is due, say so and offer to create new cards

2. PRESENTATION PHASE:
   - Present only the front (question) side of the current card
   - Never reveal the answer until the student has attempted a response
   - Keep the tone encouraging 🤩 💪

3. RESPONSE PHASE:
   - Send the student's attempt with submit_answer
   - The response reveals the correct answer; compare it with the student's attempt supportively
   - For incorrect answers, explain the concept briefly in a friendly way

4. GRADING PHASE (flashcard mode only):
   - Grade the recall with grade_card using one of the buttons:
     * again: answer was absent or wrong
     * hard: answer was right but took real effort
     * good: answer was right after a short hesitation
     * easy: answer was right immediately
   - Use preview_grades if the student wants to know when each choice brings the card back
   - Students who got an answer wrong should ONLY be graded "again"

5. TRANSITION PHASE:
   - Call next_card to move on and keep the energy high 🔥 ✨
   - session_progress reports how many cards were answered so far

6. COMPLETION PHASE:
   - When next_card reports the session as completed, call end_session for the summary
   - Congratulate the student 🎊 🎓 and propose new cards for the concepts they struggled with
`

// newLogger builds a development logger at the given level. It writes to stderr
// because stdout carries the MCP protocol.
func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = atomicLevel
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}
	return logConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// newServer creates the MCP server with every tool bound to the service
func newServer(flashcardService *FlashcardService) *server.MCPServer {
	s := server.NewMCPServer(
		"Flashcards MCP",
		"2.0.0",
		server.WithInstructions(flashcardsServerInfo),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	// Every handler finds the service in its request context
	bind := func(handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)) server.ToolHandlerFunc {
		return func(reqCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler(withService(reqCtx, flashcardService), request)
		}
	}

	s.AddTool(mcp.NewTool("create_card",
		mcp.WithDescription(
			"Create a new flashcard. "+
				"Propose the card (front, back, tags) to the student first and only call this tool "+
				"once they approve it. Each card should test a single concept with a concise answer.",
		),
		mcp.WithString("front",
			mcp.Required(),
			mcp.Description("The front text of the card"),
		),
		mcp.WithString("back",
			mcp.Required(),
			mcp.Description("The back text of the card"),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags for categorizing the card"),
		),
	), bind(handleCreateCard))

	s.AddTool(mcp.NewTool("update_card",
		mcp.WithDescription("Update the front, back or tags of an existing flashcard. Its schedule is kept."),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to update"),
		),
		mcp.WithString("front",
			mcp.Description("The new front text of the card"),
		),
		mcp.WithString("back",
			mcp.Description("The new back text of the card"),
		),
		mcp.WithArray("tags",
			mcp.Description("New tags for the card"),
		),
	), bind(handleUpdateCard))

	s.AddTool(mcp.NewTool("delete_card",
		mcp.WithDescription("Delete a flashcard together with its schedule and review history"),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to delete"),
		),
	), bind(handleDeleteCard))

	s.AddTool(mcp.NewTool("list_cards",
		mcp.WithDescription(
			"List all flashcards with their SM-2 schedule, optionally filtered by tags (a card matches "+
				"if it has ANY of the tags). Prefer to show only the question side to the student.",
		),
		mcp.WithArray("tags",
			mcp.Description("Filter cards by tags"),
		),
		mcp.WithBoolean("include_stats",
			mcp.Description("Include statistics in the response"),
		),
	), bind(handleListCards))

	s.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription(
			"Start a review session over the cards that are due, most urgent first. "+
				"Any running session is discarded. Show ONLY the front of the returned card.",
		),
		mcp.WithArray("tags",
			mcp.Description("Only review cards that carry any of these tags"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of cards in the session; 0 or absent means all due cards"),
		),
		mcp.WithString("mode",
			mcp.Description("flashcard (default) grades cards with SM-2; quiz only scores answers"),
			mcp.Enum("flashcard", "quiz"),
		),
	), bind(handleStartSession))

	s.AddTool(mcp.NewTool("get_current_card",
		mcp.WithDescription("Get the question side of the current card of the session"),
	), bind(handleGetCurrentCard))

	s.AddTool(mcp.NewTool("submit_answer",
		mcp.WithDescription(
			"Record the student's answer for a card and reveal the correct answer. "+
				"Compare both supportively. In quiz mode the response says whether the answer was correct.",
		),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card being answered"),
		),
		mcp.WithString("answer",
			mcp.Required(),
			mcp.Description("The answer provided by the student"),
		),
	), bind(handleSubmitAnswer))

	s.AddTool(mcp.NewTool("grade_card",
		mcp.WithDescription(
			"Grade how well the student recalled a card and schedule its next review with SM-2. "+
				"Use a grade button (again, hard, good, easy) or a raw quality from 0 to 5, "+
				"where 3 and above is a successful recall.",
		),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card being graded"),
		),
		mcp.WithString("grade",
			mcp.Description("Grade button: again, hard, good or easy"),
			mcp.Enum("again", "hard", "good", "easy"),
		),
		mcp.WithNumber("quality",
			mcp.Description("Recall quality from 0 to 5, used when no grade is given"),
		),
		mcp.WithString("answer",
			mcp.Description("The answer provided by the student, if not submitted before"),
		),
	), bind(handleGradeCard))

	s.AddTool(mcp.NewTool("preview_grades",
		mcp.WithDescription("Show when each grade button would schedule the card next, without grading it"),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to preview"),
		),
	), bind(handlePreviewGrades))

	s.AddTool(mcp.NewTool("next_card",
		mcp.WithDescription("Move to the next card of the session. Show ONLY its front."),
	), bind(handleNextCard))

	s.AddTool(mcp.NewTool("session_progress",
		mcp.WithDescription("Report answered cards, elapsed time and, in quiz mode, the score"),
	), bind(handleSessionProgress))

	s.AddTool(mcp.NewTool("end_session",
		mcp.WithDescription("End the review session and return its summary"),
	), bind(handleEndSession))

	return s
}

func main() {
	// Parse command-line flags
	filePath := flag.String("file", "./flashcards.json", "Path to flashcard data file")
	userID := flag.String("user", "local", "ID of the user whose schedules are reviewed")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize storage
	fileStorage := storage.NewFileStorage(*filePath, logger.Named("storage"))
	if err := fileStorage.Load(); err != nil {
		logger.Fatal("Error loading storage", zap.String("path", *filePath), zap.Error(err))
	}

	flashcardService := NewFlashcardService(fileStorage, *userID, logger.Named("service"))
	s := newServer(flashcardService)

	logger.Info("Serving flashcards over stdio", zap.String("path", *filePath), zap.String("user_id", *userID))
	if err := server.ServeStdio(s); err != nil {
		logger.Fatal("Error serving MCP server", zap.Error(err))
	}
}
