package agent

import (
	"encoding/json"
	"testing"
)

// Scenario E: stream parser robustness, fed in arbitrary chunk boundaries.
func TestExtractorScenarioE(t *testing.T) {
	payload := `{"type":"system"}` +
		`{"type":"assistant","message":{"content":[{"type":"text","text":"has } and \" in it"}]}}` +
		`{"type":"result","result":"done"}`

	chunkSizes := []int{1, 3, 7, 17, len(payload)}

	for _, size := range chunkSizes {
		e := NewExtractor()
		var got [][]byte
		for i := 0; i < len(payload); i += size {
			end := i + size
			if end > len(payload) {
				end = len(payload)
			}
			got = append(got, e.Feed([]byte(payload[i:end]))...)
		}

		if len(got) != 3 {
			t.Fatalf("chunk size %d: expected 3 objects, got %d: %v", size, len(got), toStrings(got))
		}

		var assistant message
		if err := json.Unmarshal(got[1], &assistant); err != nil {
			t.Fatalf("chunk size %d: unmarshal assistant: %v (%s)", size, err, got[1])
		}
		if text := assistant.text(); text != `has } and " in it` {
			t.Fatalf("chunk size %d: expected text %q, got %q", size, `has } and " in it`, text)
		}

		var result message
		if err := json.Unmarshal(got[2], &result); err != nil {
			t.Fatalf("chunk size %d: unmarshal result: %v", size, err)
		}
		if result.Result != "done" {
			t.Fatalf("chunk size %d: expected result %q, got %q", size, "done", result.Result)
		}
	}
}

func toStrings(objs [][]byte) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = string(o)
	}
	return out
}

func TestFindQuestionsMultiline(t *testing.T) {
	text := "before\n[QUESTION_FOR_USER]\nWhich approach?\nA or B\n[/QUESTION_FOR_USER]\nafter"
	qs := FindQuestions(text)
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
}

func TestHasTaskComplete(t *testing.T) {
	if !HasTaskComplete("done. [TASK_COMPLETE]") {
		t.Fatalf("expected marker to be detected")
	}
	if HasTaskComplete("still working") {
		t.Fatalf("expected no marker")
	}
}

func TestFindResumeID(t *testing.T) {
	id, ok := FindResumeID("some text\nResume ID: abc-123\nmore text")
	if !ok || id != "abc-123" {
		t.Fatalf("got %q, %v", id, ok)
	}
}
