// Package normalize extracts plain text from the heterogeneous message
// shapes used by the chat widget and the upstream agent API.
package normalize

import (
	"encoding/json"
	"strings"
)

// outboundBody mirrors the accepted request shapes for a user turn.
// Direct fields take priority; the nested payload form is kept for
// backward compatibility with older widget builds.
type outboundBody struct {
	Text    string `json:"text"`
	Message string `json:"message"`
	Input   string `json:"input"`
	Payload *struct {
		Thread struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		} `json:"thread"`
	} `json:"payload"`
}

// OutboundText resolves the user's utterance from a request body.
// Candidates are tried in priority order: text, message, input, then the
// legacy payload.thread.messages[0].content form. Returns the first
// non-empty trimmed candidate, or "" when none match; callers must treat
// "" as a client error and never forward it upstream.
func OutboundText(body []byte) string {
	var b outboundBody
	if err := json.Unmarshal(body, &b); err != nil {
		return ""
	}

	for _, direct := range []string{b.Text, b.Message, b.Input} {
		if s := strings.TrimSpace(direct); s != "" {
			return s
		}
	}

	if b.Payload == nil || len(b.Payload.Thread.Messages) == 0 {
		return ""
	}
	return strings.TrimSpace(legacyContentText(b.Payload.Thread.Messages[0].Content))
}

// legacyContentText reads the legacy nested content, which may be a plain
// string, an object, or a typed-part array where the first "text" part
// carries the value.
func legacyContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return objectText(obj)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, p := range parts {
			var part map[string]json.RawMessage
			if err := json.Unmarshal(p, &part); err != nil {
				continue
			}
			if typeTag(part) != "text" {
				continue
			}
			return objectText(part)
		}
	}
	return ""
}

// objectText probes an object for its text payload, checking .text.value,
// then .text, then .value in that order.
func objectText(obj map[string]json.RawMessage) string {
	if raw, ok := obj["text"]; ok {
		var nested struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Value != "" {
			return nested.Value
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	if raw, ok := obj["value"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

func typeTag(obj map[string]json.RawMessage) string {
	raw, ok := obj["type"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
