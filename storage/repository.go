// Package storage provides the storage abstraction layer for sealed session records.
//
// Records live in named buckets and are addressed by a (recordType, recordID)
// pair. Every value is an Envelope, so a backend never sees plaintext.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBucketNotFound is returned when the bucket itself does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Repository defines the interface for sealed record storage. A single Put
// replaces the stored envelope atomically.
type Repository interface {
	Put(ctx context.Context, bucket, recordType, recordID string, envelope *Envelope) error
	Get(ctx context.Context, bucket, recordType, recordID string) (*Envelope, error)
	Delete(ctx context.Context, bucket, recordType, recordID string) error
	List(ctx context.Context, bucket, recordType string) ([]string, error)
}

// IsNotFound reports whether err means the record or its bucket is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}
