package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// PartitionKey is shared by every record so rows sort by RowKey alone
const PartitionKey = "a"

// BlobName returns a unique, time-prefixed name for a recording
func BlobName(t time.Time) string {
	return fmt.Sprintf("%s-%s.wav", t.UTC().Format("20060102T150405"), uuid.NewString())
}

// RowKey returns a key that sorts newest first
func RowKey(t time.Time) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-t.UnixNano(), uuid.NewString())
}
