// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// TurnArchiveTask represents one completed question/answer exchange to be archived.
type TurnArchiveTask struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}
