package models

import "time"

// Conversation represents one workspace's persistent chat session.
type Conversation struct {
	ID              string    `json:"id"`
	WorkspacePath   string    `json:"workspace_path"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CompactionCount int       `json:"compaction_count"`
}
