package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/transfa/transfer-service/internal/domain"
)

const (
	referenceSuffixLength = 6
	// Crockford base32 without I, L, O, U so references survive being read aloud.
	referenceAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

type referenceSequencer interface {
	NextReferenceSequence(ctx context.Context) (int64, error)
}

// ReferenceGenerator builds transfer references of the form PREFIX-SEQUENCE-SUFFIX,
// e.g. WIR-00000042-7KQ2MX. The store sequence makes them unique and the random
// suffix makes them unguessable.
type ReferenceGenerator struct {
	sequence referenceSequencer
	random   io.Reader
}

// NewReferenceGenerator creates a generator backed by the store's sequence.
func NewReferenceGenerator(sequence referenceSequencer) *ReferenceGenerator {
	return &ReferenceGenerator{sequence: sequence, random: rand.Reader}
}

// Next returns a fresh reference for a transfer of the given kind.
func (g *ReferenceGenerator) Next(ctx context.Context, kind domain.TransferKind) (string, error) {
	seq, err := g.sequence.NextReferenceSequence(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to draw reference sequence: %w", err)
	}

	buf := make([]byte, referenceSuffixLength)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}
	for i := range buf {
		buf[i] = referenceAlphabet[int(buf[i])%len(referenceAlphabet)]
	}

	return fmt.Sprintf("%s-%08d-%s", referencePrefix(kind), seq, buf), nil
}

func referencePrefix(kind domain.TransferKind) string {
	switch kind {
	case domain.KindInternal:
		return "INT"
	case domain.KindDomesticACH:
		return "ACH"
	case domain.KindDomesticWire:
		return "WIR"
	case domain.KindInternational:
		return "INTL"
	default:
		return "TRF"
	}
}
