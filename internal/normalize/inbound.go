package normalize

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// citationRe matches upstream citation markers, which wrap source
// attributions in U+3010/U+3011 brackets.
var citationRe = regexp.MustCompile(`\x{3010}[^\x{3011}]*\x{3011}`)

// hspaceRe matches runs of two or more horizontal whitespace characters.
var hspaceRe = regexp.MustCompile(`[ \t]{2,}`)

// InboundText extracts plain text from one upstream message content value:
// a typed-part array (first "text" part wins), an object (.text.value then
// .value), or a plain string. Image parts render as a placeholder label
// and unrecognized shapes serialize to their compact JSON form so that
// malformed upstream data stays visible for diagnosis.
func InboundText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(content, &parts); err == nil {
		// First text part wins; image placeholders and visible fallbacks
		// only apply when no text part exists at all.
		for _, p := range parts {
			var part map[string]json.RawMessage
			if err := json.Unmarshal(p, &part); err == nil && typeTag(part) == "text" {
				return objectText(part)
			}
		}
		for _, p := range parts {
			if t := partText(p); t != "" {
				return t
			}
		}
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err == nil {
		if t := objectText(obj); t != "" {
			return t
		}
	}
	return fallbackJSON(content)
}

// InboundTextAll is the widget-side variant: it concatenates every
// text-bearing part of a content array with a blank line separator, image
// parts rendering as their placeholder in sequence. For non-array content
// it behaves like InboundText.
func InboundTextAll(content json.RawMessage) string {
	var parts []json.RawMessage
	if err := json.Unmarshal(content, &parts); err != nil {
		return InboundText(content)
	}

	var out []string
	for _, p := range parts {
		if t := partText(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "\n\n")
}

// partText reads one typed content part. Only "text" parts carry display
// text; "image_file" and "image_url" parts become a placeholder.
func partText(p json.RawMessage) string {
	var part map[string]json.RawMessage
	if err := json.Unmarshal(p, &part); err != nil {
		return fallbackJSON(p)
	}
	switch typeTag(part) {
	case "text":
		return objectText(part)
	case "image_file", "image_url":
		return "[image]"
	case "":
		return fallbackJSON(p)
	}
	return ""
}

// fallbackJSON renders an unrecognized shape as compact JSON rather than
// dropping it silently.
func fallbackJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

// StripCitations removes every citation-marker span, collapses repeated
// horizontal whitespace to a single space, and trims. It runs on every
// assistant message before display or feedback-marker scanning, and is
// idempotent.
func StripCitations(s string) string {
	s = citationRe.ReplaceAllString(s, "")
	s = hspaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
