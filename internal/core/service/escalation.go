package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

const defaultIssueDescription = "Reported during inventory check."

type issueRule struct {
	category domain.IssueCategory
	severity domain.IssueSeverity
	title    string
}

var issueRules = map[domain.VerificationStatus]issueRule{
	domain.VerificationMissing: {
		category: domain.IssueCategoryMissing,
		severity: domain.IssueSeverityHigh,
		title:    "Item missing during inventory check",
	},
	domain.VerificationPresentDamaged: {
		category: domain.IssueCategoryDamage,
		severity: domain.IssueSeverityMedium,
		title:    "Item damaged during inventory check",
	},
	domain.VerificationExpired: {
		category: domain.IssueCategoryExpired,
		severity: domain.IssueSeverityMedium,
		title:    "Item expired during inventory check",
	},
}

// IssueEscalator opens tracked issues for verification outcomes that report
// a problem.
type IssueEscalator struct {
	newID func() string
}

func NewIssueEscalator() *IssueEscalator {
	return &IssueEscalator{newID: uuid.NewString}
}

// Classify returns the category and severity for an outcome. ok is false
// when the outcome does not require an issue.
func (e *IssueEscalator) Classify(status domain.VerificationStatus) (domain.IssueCategory, domain.IssueSeverity, bool) {
	rule, ok := issueRules[status]
	if !ok {
		return "", "", false
	}
	return rule.category, rule.severity, true
}

// BuildIssue derives the issue for an outcome, or returns false when none is
// required.
func (e *IssueEscalator) BuildIssue(check domain.InventoryCheck, target domain.Target, status domain.VerificationStatus, notes, reporter string, at time.Time) (domain.Issue, bool) {
	rule, ok := issueRules[status]
	if !ok {
		return domain.Issue{}, false
	}

	description := strings.TrimSpace(notes)
	if description == "" {
		description = defaultIssueDescription
	}

	return domain.Issue{
		ID:          e.newID(),
		Target:      target,
		VehicleID:   check.VehicleID,
		StationID:   check.StationID,
		Title:       rule.title,
		Description: description,
		Severity:    rule.severity,
		Category:    rule.category,
		ReportedBy:  reporter,
		ReportedAt:  at,
	}, true
}

// Escalate opens the issue for an outcome through repo and returns its id,
// or "" when the outcome needs no issue.
func (e *IssueEscalator) Escalate(ctx context.Context, repo port.CheckRepository, check domain.InventoryCheck, target domain.Target, status domain.VerificationStatus, notes, reporter string, at time.Time) (string, error) {
	issue, ok := e.BuildIssue(check, target, status, notes, reporter, at)
	if !ok {
		return "", nil
	}

	id, err := repo.CreateIssue(ctx, issue)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	return id, nil
}
