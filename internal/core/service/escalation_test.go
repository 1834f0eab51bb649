package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

func TestIssueEscalator_Classify(t *testing.T) {
	e := NewIssueEscalator()

	tests := []struct {
		status   domain.VerificationStatus
		category domain.IssueCategory
		severity domain.IssueSeverity
		ok       bool
	}{
		{domain.VerificationMissing, domain.IssueCategoryMissing, domain.IssueSeverityHigh, true},
		{domain.VerificationPresentDamaged, domain.IssueCategoryDamage, domain.IssueSeverityMedium, true},
		{domain.VerificationExpired, domain.IssueCategoryExpired, domain.IssueSeverityMedium, true},
		{domain.VerificationPresent, "", "", false},
		{domain.VerificationLowQuantity, "", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			category, severity, ok := e.Classify(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.severity, severity)
			assert.Equal(t, tt.status.RequiresIssue(), ok)
		})
	}
}

func TestIssueEscalator_BuildIssue(t *testing.T) {
	e := NewIssueEscalator()
	now := time.Now()
	check := domain.StartCheck("check-1", "engine-1", "station-1", "user-a", now, 3, "")
	target := domain.EquipmentTarget("scba-1")

	issue, ok := e.BuildIssue(check, target, domain.VerificationMissing, "  not on truck ", "user-b", now)
	require.True(t, ok)
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, target, issue.Target)
	assert.Equal(t, "engine-1", issue.VehicleID)
	assert.Equal(t, "station-1", issue.StationID)
	assert.Equal(t, "not on truck", issue.Description)
	assert.Equal(t, "user-b", issue.ReportedBy)
	assert.NotEmpty(t, issue.Title)

	issue, ok = e.BuildIssue(check, target, domain.VerificationExpired, "", "user-b", now)
	require.True(t, ok)
	assert.Equal(t, defaultIssueDescription, issue.Description)

	_, ok = e.BuildIssue(check, target, domain.VerificationPresent, "", "user-b", now)
	assert.False(t, ok)
}
