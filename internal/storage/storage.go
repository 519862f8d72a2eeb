// Package storage defines the object-store abstraction the pipeline reads and
// writes through, plus the latest-path discovery logic built on top of it.
//
// Objects follow the naming convention
//
//	<prefix>/<YYYYMMDD_HHMMSS>/<filename>
//
// The timestamp segment is zero-padded and fixed-width, so descending
// lexicographic order over prefixes equals reverse-chronological order. The
// locator depends on that property; anything that writes objects must format
// timestamps with TimestampLayout.
package storage

import (
	"context"
	"time"
)

// TimestampLayout formats the prefix segment that makes "find latest" work.
// Changing this breaks latest-path discovery for existing buckets.
const TimestampLayout = "20060102_150405"

// Listing is one delimiter-grouped result: immediate child prefixes and the
// file keys directly under the listed prefix.
type Listing struct {
	Prefixes []string
	Files    []string
}

// ObjectStore is the narrow contract the pipeline needs from object storage.
// The S3 implementation lives in storage/s3; tests use in-memory fakes.
type ObjectStore interface {
	// List returns child prefixes and files under prefix. An empty delimiter
	// disables grouping and returns the full recursive file listing.
	List(ctx context.Context, prefix, delimiter string) (Listing, error)

	// Read returns the full content of the object at key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data at key, overwriting any existing object.
	Write(ctx context.Context, key string, data []byte) error

	// URI renders key as a fully qualified location (e.g. s3://bucket/key).
	URI(key string) string
}

// TimestampedKey builds an object key under prefix using the naming
// convention, e.g. TimestampedKey("input/", t, "entity_data.json") ->
// "input/20240102_090000/entity_data.json".
func TimestampedKey(prefix string, t time.Time, filename string) string {
	return prefix + t.Format(TimestampLayout) + "/" + filename
}
