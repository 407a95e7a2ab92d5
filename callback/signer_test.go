package callback_test

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/callback"
	"github.com/xraph/approvals/id"
)

func TestSigner_LinkRoundTrip(t *testing.T) {
	s, err := callback.NewSigner("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	runID := id.NewRunID()

	for _, approved := range []bool{true, false} {
		link, err := s.Link("https://approvals.example.com/v1/approvals/respond", runID, approved, time.Hour)
		if err != nil {
			t.Fatalf("Link: %v", err)
		}
		u, err := url.Parse(link)
		if err != nil {
			t.Fatalf("parse link: %v", err)
		}
		if u.Path != "/v1/approvals/respond" {
			t.Errorf("path = %q", u.Path)
		}

		d, err := s.Verify(u.Query().Get("token"))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if d.RunID != runID || d.Approved != approved {
			t.Errorf("decision = %+v, want run %s approved %v", d, runID, approved)
		}
	}
}

func TestSigner_Rejects(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer, _ := callback.NewSigner("s3cret", callback.WithNow(func() time.Time { return now }))
	later, _ := callback.NewSigner("s3cret", callback.WithNow(func() time.Time { return now.Add(2 * time.Hour) }))
	other, _ := callback.NewSigner("different")

	tok, err := issuer.Token(id.NewRunID(), true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		signer *callback.Signer
		token  string
	}{
		{"expired", later, tok},
		{"wrong secret", other, tok},
		{"tampered", issuer, tok[:len(tok)-2] + "xx"},
		{"garbage", issuer, "not-a-token"},
		{"alg none", issuer, "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + strings.Split(tok, ".")[1] + "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.signer.Verify(tt.token)
			if !errors.Is(err, approvals.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewSigner_RequiresSecret(t *testing.T) {
	if _, err := callback.NewSigner(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
