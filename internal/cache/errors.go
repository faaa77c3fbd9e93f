package cache

import (
	"errors"
	"fmt"

	"catalog-rag/internal/model"
)

var ErrTierUnavailable = errors.New("cache tier unavailable")

// Status is the outcome of a cache read.
type Status int

const (
	Miss Status = iota
	Hit
	// Degraded means a tier failed while serving the read; callers treat it as
	// a miss but can tell it apart from one.
	Degraded
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Degraded:
		return "degraded"
	default:
		return "miss"
	}
}

const (
	TierFast    = "fast"
	TierDurable = "durable"
)

// Lookup is the result of a query-cache read. Entry is set only on Hit.
type Lookup struct {
	Status Status
	Entry  *model.CacheEntry
	// Tier that served the hit.
	Tier string
	// Score is the similarity of a semantic hit; 1 for exact hits.
	Score float64
	// Err records the soft failure behind a Degraded status.
	Err error
}

func (l Lookup) IsHit() bool {
	return l.Status == Hit && l.Entry != nil
}

// SoftError is a cache failure that must never break the answer path.
type SoftError struct {
	Op   string
	Tier string
	Err  error
}

func (e *SoftError) Error() string {
	return fmt.Sprintf("cache %s on %s tier failed: %v", e.Op, e.Tier, e.Err)
}

func (e *SoftError) Unwrap() error {
	return e.Err
}

func soft(op, tier string, err error) *SoftError {
	return &SoftError{Op: op, Tier: tier, Err: err}
}

// IsSoft reports whether err is (or wraps) a SoftError.
func IsSoft(err error) bool {
	var se *SoftError
	return errors.As(err, &se)
}
