package devswarm

import "time"

// Metrics tracks orchestrator statistics, exposed for observability the
// same way the teacher's Metrics struct is (counters only, no external
// metrics-exporter wiring — that plumbing is out of scope per spec.md §1).
type Metrics struct {
	TicksRun        int
	IssuesSynced    int
	SpecsStarted    int
	SpecsCompleted  int
	SpecsErrored    int
	PushesPerformed int
	IssuesClosed    int
	TotalRuntime    time.Duration
}
