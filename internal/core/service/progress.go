package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

// UnknownUserLabel is shown for lock holders without a display name.
const UnknownUserLabel = "Another user"

type LockHolder struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type CompartmentProgress struct {
	CompartmentID string      `json:"compartment_id"`
	Name          string      `json:"name"`
	Verified      int         `json:"verified"`
	Total         int         `json:"total"`
	Holder        *LockHolder `json:"holder,omitempty"`
}

type ProgressReport struct {
	CheckID      string                `json:"check_id"`
	Status       domain.CheckStatus    `json:"status"`
	Total        int                   `json:"total"`
	Verified     int                   `json:"verified"`
	IssuesFound  int                   `json:"issues_found"`
	Percentage   int                   `json:"percentage"`
	Complete     bool                  `json:"complete"`
	Compartments []CompartmentProgress `json:"compartments"`
}

// Percentage returns verified*100/total clamped to [0, 100]. An empty check
// counts as fully complete.
func Percentage(verified, total int) int {
	if total <= 0 {
		return 100
	}
	pct := verified * 100 / total
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// ProgressAggregator derives displayable progress from a check, its
// verification records and the live lock snapshot. It keeps no state.
type ProgressAggregator struct {
	names  port.DisplayNameResolver
	logger *zap.Logger
}

func NewProgressAggregator(names port.DisplayNameResolver, logger *zap.Logger) *ProgressAggregator {
	return &ProgressAggregator{names: names, logger: logger}
}

func (a *ProgressAggregator) Aggregate(ctx context.Context, check domain.InventoryCheck, compartments []domain.Compartment, records []domain.InventoryCheckItem, locks map[string]string) ProgressReport {
	report := ProgressReport{
		CheckID:     check.ID,
		Status:      check.Status(),
		Total:       check.Progress.TotalItems,
		Verified:    check.Progress.Verified,
		IssuesFound: check.Progress.IssuesFound,
		Percentage:  Percentage(check.Progress.Verified, check.Progress.TotalItems),
		Complete:    check.Progress.Verified >= check.Progress.TotalItems,
	}

	verified := make(map[string]int)
	for _, rec := range records {
		verified[rec.CompartmentID]++
	}

	seen := make(map[string]bool, len(compartments))
	for _, c := range compartments {
		seen[c.ID] = true
		report.Compartments = append(report.Compartments, CompartmentProgress{
			CompartmentID: c.ID,
			Name:          c.Name,
			Verified:      verified[c.ID],
			Total:         c.ExpectedItems,
		})
	}

	// Records or locks may reference compartments no longer listed for the vehicle.
	var extra []string
	for id := range verified {
		if !seen[id] {
			seen[id] = true
			extra = append(extra, id)
		}
	}
	for id := range locks {
		if !seen[id] {
			seen[id] = true
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		report.Compartments = append(report.Compartments, CompartmentProgress{
			CompartmentID: id,
			Name:          id,
			Verified:      verified[id],
		})
	}

	for i := range report.Compartments {
		holder, ok := locks[report.Compartments[i].CompartmentID]
		if !ok {
			continue
		}
		report.Compartments[i].Holder = &LockHolder{
			UserID:      holder,
			DisplayName: a.DisplayName(ctx, holder),
		}
	}
	return report
}

// DisplayName resolves a user's display name, falling back to
// UnknownUserLabel when the resolver has no mapping or fails.
func (a *ProgressAggregator) DisplayName(ctx context.Context, userID string) string {
	if a.names == nil {
		return UnknownUserLabel
	}
	name, ok, err := a.names.DisplayNameOf(ctx, userID)
	if err != nil {
		a.logger.Debug("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		return UnknownUserLabel
	}
	if !ok || name == "" {
		return UnknownUserLabel
	}
	return name
}
