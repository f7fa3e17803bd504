package app

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/transfa/transfer-service/internal/domain"
)

type sequenceStub struct {
	next int64
	err  error
}

func (s *sequenceStub) NextReferenceSequence(ctx context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func TestReferenceGenerator_Next(t *testing.T) {
	gen := NewReferenceGenerator(&sequenceStub{next: 41})
	pattern := regexp.MustCompile(`^(INT|ACH|WIR|INTL)-\d{8}-[0-9A-HJKMNP-TV-Z]{6}$`)

	kinds := []domain.TransferKind{domain.KindInternal, domain.KindDomesticACH, domain.KindDomesticWire, domain.KindInternational}
	seen := make(map[string]bool)
	for _, kind := range kinds {
		ref, err := gen.Next(context.Background(), kind)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", kind, err)
		}
		if !pattern.MatchString(ref) {
			t.Fatalf("reference %q does not match expected format", ref)
		}
		if seen[ref] {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = true
	}

	ref, _ := gen.Next(context.Background(), domain.KindDomesticWire)
	if ref[:13] != "WIR-00000046-" {
		t.Fatalf("expected sequence 46 with WIR prefix, got %q", ref)
	}
}

func TestReferenceGenerator_PropagatesSequenceError(t *testing.T) {
	gen := NewReferenceGenerator(&sequenceStub{err: errors.New("sequence unavailable")})
	if _, err := gen.Next(context.Background(), domain.KindInternal); err == nil {
		t.Fatalf("expected error when the sequence fails")
	}
}
