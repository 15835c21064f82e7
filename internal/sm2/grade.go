package sm2

import (
	"fmt"
	"strings"
	"time"
)

// Grade is one of the four canonical grading buttons shown to the user.
type Grade string

// The button to quality mapping is a fixed contract: changing it changes
// scheduling for every user.
const (
	GradeAgain Grade = "again"
	GradeHard  Grade = "hard"
	GradeGood  Grade = "good"
	GradeEasy  Grade = "easy"
)

var gradeQualities = map[Grade]Quality{
	GradeAgain: 0,
	GradeHard:  3,
	GradeGood:  4,
	GradeEasy:  5,
}

// Grades lists the buttons in display order.
func Grades() []Grade {
	return []Grade{GradeAgain, GradeHard, GradeGood, GradeEasy}
}

// Quality returns the recall quality the button stands for.
func (g Grade) Quality() (Quality, error) {
	q, ok := gradeQualities[g]
	if !ok {
		return 0, fmt.Errorf("%w: unknown grade %q", ErrInvalidArgument, string(g))
	}
	return q, nil
}

// ParseGrade accepts a button name in any case.
func ParseGrade(s string) (Grade, error) {
	g := Grade(strings.ToLower(strings.TrimSpace(s)))
	if _, err := g.Quality(); err != nil {
		return "", err
	}
	return g, nil
}

// Preview holds the would-be state for each grading button.
type Preview struct {
	Again ReviewState `json:"again"`
	Hard  ReviewState `json:"hard"`
	Good  ReviewState `json:"good"`
	Easy  ReviewState `json:"easy"`
}

// For returns the previewed state of a single button.
func (p Preview) For(g Grade) (ReviewState, bool) {
	switch g {
	case GradeAgain:
		return p.Again, true
	case GradeHard:
		return p.Hard, true
	case GradeGood:
		return p.Good, true
	case GradeEasy:
		return p.Easy, true
	}
	return ReviewState{}, false
}

func preview(p Params, current ReviewState, now time.Time) (Preview, error) {
	var out Preview
	targets := map[Grade]*ReviewState{
		GradeAgain: &out.Again,
		GradeHard:  &out.Hard,
		GradeGood:  &out.Good,
		GradeEasy:  &out.Easy,
	}
	for _, g := range Grades() {
		next, err := compute(p, gradeQualities[g], current.IntervalDays, current.EaseFactor, current.Repetitions, now)
		if err != nil {
			return Preview{}, fmt.Errorf("preview %s: %w", g, err)
		}
		*targets[g] = next
	}
	return out, nil
}
