package agent

import "encoding/json"

// message is the newline-framed JSON event protocol the agent runtime
// speaks on stdout (§4.3): types system, assistant, result, user, each
// optionally carrying session_id, text-bearing content blocks, and a
// final result string.
type message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Result    string          `json:"result"`
	Message   *innerMessage   `json:"message"`
}

type innerMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeMessage parses one complete JSON object extracted by Extractor.
// Malformed JSON in a framed position is dropped by the caller with a log;
// this function only reports the parse error.
func decodeMessage(raw []byte) (*message, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// text concatenates every text content block in an assistant message.
func (m *message) text() string {
	if m.Message == nil {
		return ""
	}
	var out string
	for _, b := range m.Message.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
