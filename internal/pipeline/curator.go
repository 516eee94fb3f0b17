package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"podforge/internal/gateway"
	"podforge/internal/models"
)

// CuratorParams select what to research and how deep to go.
type CuratorParams struct {
	Purpose  string
	Topic    string
	Inputs   []string
	Duration string
	Depth    string
}

// SourceRange is the target citation count for one research run.
type SourceRange struct {
	Min int
	Max int
}

// SourceRangeFor maps duration and depth buckets onto a target source count.
func SourceRangeFor(duration, depth string) SourceRange {
	d := durationBucket(duration)
	switch depth {
	case "deep":
		switch d {
		case "short":
			return SourceRange{4, 6}
		case "long":
			return SourceRange{10, 15}
		default:
			return SourceRange{5, 8}
		}
	case "shallow":
		if d == "long" {
			return SourceRange{3, 5}
		}
		return SourceRange{2, 4}
	default: // standard
		if d == "long" {
			return SourceRange{6, 10}
		}
		return SourceRange{2, 4}
	}
}

func durationBucket(duration string) string {
	switch duration {
	case "1-3 min", "short":
		return "short"
	case "5-10 min", "10+ min", "long":
		return "long"
	default:
		return "medium"
	}
}

// Curator produces the research dossier consumed by the writer. It prefers a
// search-augmented call, retries once without web access in forced-JSON mode,
// and as a last resort builds a degenerate dossier straight from the inputs.
// It never fails the pipeline over research quality.
type Curator struct {
	gen    gateway.TextGenerator
	logger *slog.Logger
}

// NewCurator builds a curator stage.
func NewCurator(gen gateway.TextGenerator, logger *slog.Logger) *Curator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Curator{gen: gen, logger: logger}
}

// Research runs the two-attempt curation flow and always returns a dossier.
func (c *Curator) Research(ctx context.Context, p CuratorParams) models.Dossier {
	prompt := curatorPrompt(p)

	raw, err := c.gen.GenerateText(ctx, prompt, gateway.Options{GroundedSearch: true})
	if err == nil {
		if dossier, derr := DecodeDossier(raw); derr == nil && !dossier.Empty() {
			return dossier
		} else if derr != nil {
			err = derr
		} else {
			err = fmt.Errorf("grounded dossier had no thesis and no facts")
		}
	}
	c.logger.Warn("grounded curation failed, retrying without web access", "error", err)

	fallbackPrompt := prompt + "\n\nYou have no web access. Answer from your own knowledge only and leave sources empty if you cannot cite any."
	raw, err = c.gen.GenerateText(ctx, fallbackPrompt, gateway.Options{ForceJSON: true})
	if err == nil {
		if dossier, derr := DecodeDossier(raw); derr == nil && !dossier.Empty() {
			return dossier
		} else if derr != nil {
			err = derr
		} else {
			err = fmt.Errorf("ungrounded dossier had no thesis and no facts")
		}
	}
	c.logger.Warn("curation exhausted both attempts, using degenerate dossier", "error", err)

	return degenerateDossier(p)
}

func curatorPrompt(p CuratorParams) string {
	r := SourceRangeFor(p.Duration, p.Depth)

	var b strings.Builder
	fmt.Fprintf(&b, "You are a research curator preparing a dossier for a short-form audio piece.\n")
	fmt.Fprintf(&b, "Purpose: %s\nTopic: %s\n", p.Purpose, p.Topic)
	if len(p.Inputs) > 0 {
		fmt.Fprintf(&b, "Raw inputs:\n- %s\n", strings.Join(p.Inputs, "\n- "))
	}
	fmt.Fprintf(&b, "Target depth: %s, duration: %s.\n", p.Depth, p.Duration)
	fmt.Fprintf(&b, "Cite between %d and %d sources.\n\n", r.Min, r.Max)
	b.WriteString(`Respond with a single JSON object:
{"thesis": "...", "facts": ["..."], "sources": [{"title": "...", "url": "..."}]}`)
	return b.String()
}

// degenerateDossier is the last-resort dossier built directly from the raw
// input text: no thesis refinement, no sources.
func degenerateDossier(p CuratorParams) models.Dossier {
	thesis := p.Topic
	if thesis == "" && len(p.Inputs) > 0 {
		thesis = p.Inputs[0]
	}
	return models.Dossier{
		Thesis:  thesis,
		Facts:   p.Inputs,
		Sources: []models.Source{},
	}
}
