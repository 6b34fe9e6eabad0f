package session

import (
	"time"
)

// UploadRecord is the metadata entry written after a blob upload. Field
// names on the wire follow the note service's table entity.
type UploadRecord struct {
	PartitionKey  string    `json:"PartitionKey"`
	RowKey        string    `json:"RowKey"`
	URI           string    `json:"Uri"`
	ApplicationID string    `json:"ApplicationId"`
	DeviceID      string    `json:"DeviceId"`
	Timestamp     time.Time `json:"Time"`
}
