// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestTask represents an asynchronous request to ingest a folder into a collection.
type IngestTask struct {
	TaskID      string    `json:"task_id"`
	RootDir     string    `json:"root_dir"`
	Collection  string    `json:"collection"`
	RequestedAt time.Time `json:"requested_at"`
}
