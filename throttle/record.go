package throttle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Record tracks failed sign-in attempts for one identifier.
type Record struct {
	Identifier     string
	FailureCount   int
	FirstFailureAt time.Time
	// LockedUntil is zero until the threshold is reached.
	LockedUntil time.Time
}

// Locked reports whether the record holds an active lockout at now.
func (r Record) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// Status is the caller-facing view of a Record.
type Status struct {
	FailureCount            int
	RemainingLockoutSeconds int
}

func statusOf(r Record, now time.Time) Status {
	s := Status{FailureCount: r.FailureCount}
	if r.Locked(now) {
		s.RemainingLockoutSeconds = int(math.Ceil(r.LockedUntil.Sub(now).Seconds()))
	}
	return s
}

// storedRecord is the persisted form. Timestamps are kept as strings so an
// unparseable value is detected on read instead of silently zeroed.
type storedRecord struct {
	Identifier     string `json:"identifier"`
	FailureCount   int    `json:"failureCount"`
	FirstFailureAt string `json:"firstFailureAt"`
	LockedUntil    string `json:"lockedUntil,omitempty"`
}

func encodeRecord(r Record) ([]byte, error) {
	s := storedRecord{
		Identifier:     r.Identifier,
		FailureCount:   r.FailureCount,
		FirstFailureAt: r.FirstFailureAt.UTC().Format(time.RFC3339Nano),
	}
	if !r.LockedUntil.IsZero() {
		s.LockedUntil = r.LockedUntil.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(s)
}

func decodeRecord(data []byte) (Record, error) {
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	first, err := time.Parse(time.RFC3339Nano, s.FirstFailureAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: firstFailureAt: %v", ErrCorruptRecord, err)
	}
	r := Record{
		Identifier:     s.Identifier,
		FailureCount:   s.FailureCount,
		FirstFailureAt: first,
	}
	if s.LockedUntil != "" {
		if r.LockedUntil, err = time.Parse(time.RFC3339Nano, s.LockedUntil); err != nil {
			return Record{}, fmt.Errorf("%w: lockedUntil: %v", ErrCorruptRecord, err)
		}
	}
	if r.FailureCount < 0 {
		return Record{}, fmt.Errorf("%w: negative failure count", ErrCorruptRecord)
	}
	return r, nil
}

// recordID keys persisted records by a digest so raw identifiers (emails)
// never appear as storage keys.
func recordID(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:16])
}
