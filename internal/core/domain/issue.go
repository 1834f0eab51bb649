package domain

import "time"

type IssueCategory string

const (
	IssueCategoryMissing IssueCategory = "missing"
	IssueCategoryDamage  IssueCategory = "damage"
	IssueCategoryExpired IssueCategory = "expired"
)

type IssueSeverity string

const (
	IssueSeverityLow      IssueSeverity = "low"
	IssueSeverityMedium   IssueSeverity = "medium"
	IssueSeverityHigh     IssueSeverity = "high"
	IssueSeverityCritical IssueSeverity = "critical"
)

// Issue is a follow-up record opened when a verification reveals a problem.
type Issue struct {
	ID          string
	Target      Target
	VehicleID   string
	StationID   string
	Title       string
	Description string
	Severity    IssueSeverity
	Category    IssueCategory
	ReportedBy  string
	ReportedAt  time.Time
}
