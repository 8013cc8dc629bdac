package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for request validation failures.
var (
	ErrInvalidSide    = errors.New("invalid side")
	ErrNoImages       = errors.New("no images provided")
	ErrInvalidLocator = errors.New("invalid storage locator")
	ErrNoQueryText    = errors.New("no damage description provided")
)

// ValidateLocator checks the s3://bucket/key locator syntax.
func ValidateLocator(locator string) error {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return &ValidationError{Field: "locator", Value: locator, Wrapped: ErrInvalidLocator}
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return &ValidationError{Field: "locator", Value: locator, Wrapped: ErrInvalidLocator}
	}
	return nil
}

// ValidateAnalyzeSide checks an analyze-side request before any external
// call is made.
func ValidateAnalyzeSide(side Side, images []string) error {
	if !ValidSide(side) {
		return &ValidationError{Field: "side", Value: string(side), Wrapped: ErrInvalidSide}
	}
	if len(images) == 0 {
		return ErrNoImages
	}
	for _, loc := range images {
		if err := ValidateLocator(loc); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChunk checks a chunk before persistence.
func ValidateChunk(c ChunkOutput) error {
	if !ValidSide(c.Side) {
		return &ValidationError{Field: "side", Value: string(c.Side), Wrapped: ErrInvalidSide}
	}
	if c.MergedDamageDescription == "" && len(c.DamageDescriptions) > 0 {
		return fmt.Errorf("validate: merged description missing for %d damage descriptions", len(c.DamageDescriptions))
	}
	return nil
}
