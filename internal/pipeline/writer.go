package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"podforge/internal/gateway"
	"podforge/internal/models"
)

// ErrEmptyScript is returned when the writer model yields no script body.
// Unlike curation, writing has no fallback: an empty script fails the job.
var ErrEmptyScript = errors.New("writer returned an empty script")

// WriterParams shape the narration the writer produces.
type WriterParams struct {
	Style     string
	Duration  string
	Depth     string
	Tone      string
	Archetype string
}

// Writer turns a dossier into a titled script via one forced-JSON call.
// Search augmentation is never used here; the model rejects structured
// output combined with tool use.
type Writer struct {
	gen gateway.TextGenerator
}

// NewWriter builds a writer stage.
func NewWriter(gen gateway.TextGenerator) *Writer {
	return &Writer{gen: gen}
}

// Compose writes the script for a dossier. An unusable response is a hard
// failure of the whole job.
func (w *Writer) Compose(ctx context.Context, dossier models.Dossier, p WriterParams) (models.Script, error) {
	prompt, err := writerPrompt(dossier, p)
	if err != nil {
		return models.Script{}, err
	}

	raw, err := w.gen.GenerateText(ctx, prompt, gateway.Options{ForceJSON: true})
	if err != nil {
		return models.Script{}, fmt.Errorf("writer call: %w", err)
	}

	script, err := DecodeScript(raw)
	if err != nil {
		return models.Script{}, fmt.Errorf("writer response: %w", err)
	}
	if strings.TrimSpace(script.BodyDisplay) == "" {
		return models.Script{}, ErrEmptyScript
	}
	if script.Title == "" {
		script.Title = dossier.Thesis
	}
	return script, nil
}

func writerPrompt(dossier models.Dossier, p WriterParams) (string, error) {
	dossierJSON, err := json.Marshal(dossier)
	if err != nil {
		return "", fmt.Errorf("marshal dossier: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a scriptwriter for short-form audio. Write a complete narration script from this research dossier.\n\n")
	fmt.Fprintf(&b, "Dossier:\n%s\n\n", dossierJSON)
	fmt.Fprintf(&b, "Style: %s\nDuration: %s\nDepth: %s\nTone: %s\n", p.Style, p.Duration, p.Depth, p.Tone)
	if p.Archetype != "" {
		fmt.Fprintf(&b, "Narrative archetype: %s\n", p.Archetype)
	}
	b.WriteString(`
Respond with a single JSON object:
{"title": "...", "script": "..."}
The script field must contain the full narration, never a summary or outline.`)
	return b.String(), nil
}
