package ingest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/david/opportunity-scout/internal/ai"
)

func TestImportURLStoresGateReasons(t *testing.T) {
	h := newHarness()
	good := candidateAt("https://fund.org/calls/a")
	bad := candidateAt("https://fund.org/calls/b")
	bad.Flags.RollingOpen = true
	h.page("https://fund.org/calls", good, bad)

	res, err := h.orch.ImportURL(context.Background(), "https://fund.org/calls", "")
	if err != nil {
		t.Fatalf("ImportURL: %v", err)
	}
	if len(res.Drafts) != 2 {
		t.Fatalf("both candidates should be staged, got %+v", res.Drafts)
	}
	if len(res.Drafts[0].GateReasons) != 0 || !res.Drafts[0].Inserted {
		t.Fatalf("unexpected first draft %+v", res.Drafts[0])
	}
	stored := h.drafts.byURL["https://fund.org/calls/b"]
	if stored == nil || !slices.Contains(stored.GateReasons, ReasonRollingOpen) {
		t.Fatalf("gate reasons should be stored on the draft, got %+v", stored)
	}
	if h.dedup.calls != 0 {
		t.Fatalf("manual import does not run dedup")
	}
}

func TestImportURLExtractionFailureWritesErrorDraft(t *testing.T) {
	h := newHarness()
	h.page("https://fund.org/calls")
	h.extractor.errs["page:https://fund.org/calls"] = ai.ErrExtractionParse

	res, err := h.orch.ImportURL(context.Background(), "https://fund.org/calls", "institutional")
	if err != nil {
		t.Fatalf("ImportURL: %v", err)
	}
	if res.ExtractionError == "" || len(res.Drafts) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	d := h.drafts.byURL["https://fund.org/calls"]
	if d == nil || d.ExtractionError == nil || d.Title != "fund.org" {
		t.Fatalf("error draft not stored: %+v", d)
	}
}

func TestImportURLErrors(t *testing.T) {
	h := newHarness()
	if _, err := h.orch.ImportURL(context.Background(), "ftp://x.org/file", ""); err == nil {
		t.Fatalf("non-http url should be refused")
	}

	var fe *FetchError
	if _, err := h.orch.ImportURL(context.Background(), "https://missing.org/", ""); !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}

	h.page("https://fund.org/calls")
	h.extractor.errs["page:https://fund.org/calls"] = ai.ErrConfiguration
	if _, err := h.orch.ImportURL(context.Background(), "https://fund.org/calls", ""); !errors.Is(err, ai.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(h.drafts.byURL) != 0 {
		t.Fatalf("nothing should be written on configuration errors")
	}
}
