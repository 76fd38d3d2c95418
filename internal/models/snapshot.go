package models

import (
	"time"
)

// Snapshot is one reconciliation of a scope root over one window
type Snapshot struct {
	ScopeRoot   int64     `json:"scopeRoot"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	GeneratedAt time.Time `json:"generatedAt"`
	Tree        Tree      `json:"tree"`
}
