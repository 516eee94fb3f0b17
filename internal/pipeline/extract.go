package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"podforge/internal/models"
)

// DecodeError reports that a model response could not be normalized into the
// expected shape. It is a hard error: callers decide whether a fallback path
// exists.
type DecodeError struct {
	Kind   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Kind, e.Reason)
}

// ExtractJSON locates the first '{' and the last '}' in a free-form model
// response, strips control characters, and returns the candidate document.
// Models wrap JSON in prose and code fences often enough that strict parsing
// of the raw response is not viable.
func ExtractJSON(raw string) ([]byte, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil, &DecodeError{Kind: "json", Reason: "no JSON object found in response"}
	}

	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, raw[start:end+1])

	return []byte(cleaned), nil
}

// firstString returns the first non-empty string value among the candidate
// keys. Upstream responses name the same field inconsistently across stages;
// all known variants are mapped onto one canonical struct here.
func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstStringList(fields map[string]json.RawMessage, keys ...string) []string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			return list
		}
	}
	return nil
}

// DecodeDossier normalizes a curator response onto the canonical dossier.
func DecodeDossier(raw string) (models.Dossier, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return models.Dossier{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return models.Dossier{}, &DecodeError{Kind: "dossier", Reason: err.Error()}
	}

	dossier := models.Dossier{
		Thesis: firstString(fields, "thesis", "main_thesis", "thesis_statement"),
		Facts:  firstStringList(fields, "facts", "key_facts"),
	}

	if raw, ok := fields["sources"]; ok {
		var structured []models.Source
		if err := json.Unmarshal(raw, &structured); err == nil {
			dossier.Sources = structured
		} else {
			var plain []string
			if err := json.Unmarshal(raw, &plain); err == nil {
				for _, s := range plain {
					dossier.Sources = append(dossier.Sources, models.Source{Title: s})
				}
			}
		}
	}

	return dossier, nil
}

// DecodeScript normalizes a writer response onto the canonical script.
func DecodeScript(raw string) (models.Script, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return models.Script{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return models.Script{}, &DecodeError{Kind: "script", Reason: err.Error()}
	}

	body := firstString(fields, "script", "script_body", "body")
	script := models.Script{
		Title:       firstString(fields, "title", "suggested_title"),
		BodyDisplay: body,
		BodyPlain:   PlainText(body),
	}
	return script, nil
}

// DecodeDecision normalizes a classification response onto the canonical
// decision. An unrecognizable verdict is a decode failure, not a default.
func DecodeDecision(raw string) (models.Decision, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return models.Decision{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return models.Decision{}, &DecodeError{Kind: "decision", Reason: err.Error()}
	}

	decision := models.Decision{
		Verdict:     strings.ToLower(firstString(fields, "verdict", "decision")),
		ContentType: firstString(fields, "content_type", "type", "tag"),
		Reason:      firstString(fields, "reason", "rationale", "explanation"),
	}

	switch decision.Verdict {
	case models.VerdictApproved, models.VerdictRejected:
		return decision, nil
	}
	return models.Decision{}, &DecodeError{Kind: "decision", Reason: fmt.Sprintf("unknown verdict %q", decision.Verdict)}
}

// PlainText reduces a display script to the plain narration fed to speech
// synthesis: markup markers, bracketed stage directions, and heading chrome
// removed.
func PlainText(display string) string {
	var b strings.Builder
	b.Grow(len(display))

	inBracket := false
	for _, r := range display {
		switch {
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == '*' || r == '#' || r == '`' || r == '_':
		default:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
