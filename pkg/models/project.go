// Package models defines the domain types persisted and exchanged across
// the discovery pipeline: projects, their analyses, tags, cache entries,
// and the ephemeral job envelope used by the analysis queue.
package models

import "time"

// ProjectStatus is the lifecycle state of a discovered project.
type ProjectStatus string

const (
	StatusDiscovered ProjectStatus = "DISCOVERED"
	StatusQueued     ProjectStatus = "QUEUED"
	StatusAnalyzing  ProjectStatus = "ANALYZING"
	StatusAnalyzed   ProjectStatus = "ANALYZED"
	StatusError      ProjectStatus = "ERROR"
	StatusArchived   ProjectStatus = "ARCHIVED"
)

// CanTransitionTo reports whether moving from s to next is a legal state
// machine edge. ARCHIVED is a terminal sink reachable from any
// state.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	if next == StatusArchived {
		return true
	}
	switch s {
	case StatusDiscovered:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusAnalyzing || next == StatusDiscovered
	case StatusAnalyzing:
		return next == StatusAnalyzed || next == StatusError || next == StatusDiscovered
	case StatusError:
		// ANALYZING is reachable directly when the queue retries a failed
		// job without an operator reset in between.
		return next == StatusQueued || next == StatusDiscovered || next == StatusAnalyzing
	case StatusAnalyzed:
		return next == StatusQueued
	case StatusArchived:
		return next == StatusDiscovered
	default:
		return false
	}
}

// Project is a discovered software project rooted at a unique filesystem path.
type Project struct {
	ID             string
	Path           string
	Name           string
	Description    string
	Framework      string
	Language       string
	PackageManager string
	FileCount      int
	LinesOfCode    int
	Size           int64
	LastModified   time.Time
	Status         ProjectStatus
	IsActive       bool
	DiscoveredAt   time.Time
	UpdatedAt      time.Time
	AnalyzedAt     *time.Time
	Tags           []*Tag
}

// Analysis is an immutable AI-generated analysis of a project at a point in
// time. Analyses are never mutated after creation, only superseded by newer
// rows; they are deleted solely as a cascade of project deletion.
type Analysis struct {
	ID              string
	ProjectID       string
	Summary         string
	TechStack       TechStack
	Complexity      string
	Recommendations []Recommendation
	CompletionScore int
	MaturityLevel   string
	ProductionGaps  []string
	EstimatedValue  EstimatedValue
	Model           string
	TokensUsed      int
	CacheHit        bool
	CreatedAt       time.Time
}

// TechStack groups detected technologies by concern.
type TechStack struct {
	Languages  []string `json:"languages,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Databases  []string `json:"databases,omitempty"`
}

// Recommendation is a single actionable suggestion from an analysis.
type Recommendation struct {
	Kind        string `json:"kind"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// EstimatedValue is the analyzer's rough commercial-value estimate.
type EstimatedValue struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency,omitempty"`
	Confidence string  `json:"confidence"`
}

// Tag is a weakly-shared, many-to-many label on projects. Not on the
// critical analysis path.
type Tag struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
