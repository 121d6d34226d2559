package agent

import "regexp"

// Markers inside free text are a brittle side-channel (§9): they are
// treated as best-effort hints and never gate state-machine transitions on
// their own — task-group completion and commit presence remain the
// authoritative completion signals (§9).
var (
	questionMarker = regexp.MustCompile(`(?s)\[QUESTION_FOR_USER\](.*?)\[/QUESTION_FOR_USER\]`)
	taskCompleteMarker = regexp.MustCompile(`\[TASK_COMPLETE\]`)
	resumeIDMarker = regexp.MustCompile(`Resume ID:\s*(\S+)`)
)

// FindQuestions returns the text of every [QUESTION_FOR_USER] block in text.
func FindQuestions(text string) []string {
	matches := questionMarker.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// HasTaskComplete reports whether text contains the [TASK_COMPLETE] marker.
func HasTaskComplete(text string) bool {
	return taskCompleteMarker.MatchString(text)
}

// FindResumeID extracts a `Resume ID: <token>` marker, if present.
func FindResumeID(text string) (string, bool) {
	m := resumeIDMarker.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
