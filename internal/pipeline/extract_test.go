package pipeline

import (
	"errors"
	"testing"
)

func TestExtractJSON_StripsProseAndFences(t *testing.T) {
	raw := "Sure! Here is the dossier you asked for:\n```json\n{\"thesis\": \"espresso\"}\n```\nLet me know if you need more."
	doc, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if string(doc) != `{"thesis": "espresso"}` {
		t.Fatalf("unexpected document: %s", doc)
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, err := ExtractJSON("no json here")
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDecodeDossier_FieldVariants(t *testing.T) {
	raw := `{"main_thesis": "the canal changed trade", "key_facts": ["opened 1914"], "sources": [{"title": "archive", "url": "https://example.com"}]}`
	dossier, err := DecodeDossier(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dossier.Thesis != "the canal changed trade" {
		t.Fatalf("thesis not normalized: %q", dossier.Thesis)
	}
	if len(dossier.Facts) != 1 || dossier.Facts[0] != "opened 1914" {
		t.Fatalf("facts not normalized: %v", dossier.Facts)
	}
	if len(dossier.Sources) != 1 || dossier.Sources[0].URL != "https://example.com" {
		t.Fatalf("sources not normalized: %v", dossier.Sources)
	}
}

func TestDecodeDossier_PlainStringSources(t *testing.T) {
	dossier, err := DecodeDossier(`{"thesis": "t", "sources": ["a book", "a paper"]}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dossier.Sources) != 2 || dossier.Sources[0].Title != "a book" {
		t.Fatalf("plain sources not wrapped: %v", dossier.Sources)
	}
}

func TestDecodeScript_FieldVariants(t *testing.T) {
	script, err := DecodeScript(`{"suggested_title": "Locks and Levels", "script_body": "## Intro\nWelcome [pause] to the show."}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if script.Title != "Locks and Levels" {
		t.Fatalf("title not normalized: %q", script.Title)
	}
	if script.BodyDisplay == "" {
		t.Fatal("display body lost")
	}
	if script.BodyPlain != "Intro\nWelcome  to the show." {
		t.Fatalf("plain body not stripped: %q", script.BodyPlain)
	}
}

func TestDecodeDecision(t *testing.T) {
	decision, err := DecodeDecision(`{"decision": "REJECTED", "type": "test_string", "rationale": "no factual substance"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Verdict != "rejected" || decision.Reason != "no factual substance" || decision.ContentType != "test_string" {
		t.Fatalf("decision not normalized: %+v", decision)
	}
}

func TestDecodeDecision_UnknownVerdict(t *testing.T) {
	_, err := DecodeDecision(`{"verdict": "maybe"}`)
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError for unknown verdict, got %v", err)
	}
}

func TestPlainText(t *testing.T) {
	in := "# Title\n\n**Bold claim** [sound of rain] and `code`.\n\n  _quiet_ line  \n"
	got := PlainText(in)
	want := "Title\nBold claim  and code.\nquiet line"
	if got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
}
