package store

import (
	"testing"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

func TestProfileDocRoundTripKeepsRegistrationLayout(t *testing.T) {
	p := &domain.Profile{UserID: "u1", Name: "Ada", Email: "ada@example.com", CreatedAt: "2025-01-01T10:00:00Z"}

	d := toProfileDoc(p)
	if d.UserID != "u1" || d.CreatedAt != p.CreatedAt {
		t.Fatalf("unexpected document: %+v", d)
	}

	got := fromProfileDoc("u1", d)
	if *got != *p {
		t.Fatalf("expected %+v, got %+v", p, got)
	}
}

func TestFromProfileDocFallsBackToDocumentID(t *testing.T) {
	got := fromProfileDoc("doc-42", profileDoc{Name: "Legacy"})
	if got.UserID != "doc-42" {
		t.Fatalf("expected document id fallback, got %q", got.UserID)
	}
}
