package proto

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders whole seconds as "1 hour 2 minutes 5 seconds", omitting zero
// units. Zero renders as "0 seconds".
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	if total <= 0 {
		return "0 seconds"
	}

	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// CompletionText builds the closing assistant message. Fields missing from s fall back
// to the locally observed answered count and elapsed time.
func CompletionText(s *Summary, localAnswered int, localElapsed time.Duration) string {
	answered := localAnswered
	elapsed := localElapsed
	if s != nil {
		if s.QuestionsAnswered != nil {
			answered = *s.QuestionsAnswered
		}
		if s.DurationSeconds != nil {
			elapsed = time.Duration(*s.DurationSeconds * float64(time.Second))
		}
	}
	return fmt.Sprintf("Thanks! You're all set.\n\nQuestions answered: %d\nTime: %s", answered, FormatDuration(elapsed))
}
