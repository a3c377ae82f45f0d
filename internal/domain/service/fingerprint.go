package service

import (
	"context"
	"time"

	"github.com/turtacn/secstate/internal/domain/models"
	secerrors "github.com/turtacn/secstate/pkg/errors"
)

// FingerprintGenerator derives a DeviceFingerprint from the ambient environment.
// It keeps no state between calls.
type FingerprintGenerator struct {
	detector EnvironmentDetector
	hasher   Hasher
	clock    Clock
}

// NewFingerprintGenerator creates a FingerprintGenerator.
func NewFingerprintGenerator(detector EnvironmentDetector, hasher Hasher, clock Clock) *FingerprintGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &FingerprintGenerator{detector: detector, hasher: hasher, clock: clock}
}

// Generate hashes the ordered device attributes. Identical attributes always
// yield the same ID.
func (g *FingerprintGenerator) Generate(ctx context.Context) (*models.DeviceFingerprint, error) {
	attrs, err := g.detector.Attributes(ctx)
	if err != nil {
		return nil, secerrors.WrapError(err, secerrors.CodeInternal, "failed to read device attributes")
	}

	components := attrs.Components()
	id, err := g.hasher.Hash(ctx, components)
	if err != nil {
		return nil, secerrors.WrapError(err, secerrors.CodeCrypto, "failed to hash device attributes")
	}

	return &models.DeviceFingerprint{
		ID:         id,
		Components: components,
		Timestamp:  g.clock().UTC(),
	}, nil
}
