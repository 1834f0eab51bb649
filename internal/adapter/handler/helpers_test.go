package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/adapter/access"
	"github.com/rl1809/apparatus-check/internal/adapter/storage"
	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/core/service"
)

func newTestWorkflow(t *testing.T) (*service.CheckWorkflowService, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.AddVehicle("engine-1", "station-1",
		domain.Compartment{ID: "cab", Name: "Cab", ExpectedItems: 2},
		domain.Compartment{ID: "rear", Name: "Rear", ExpectedItems: 1},
	)
	store.AddEquipment("scba-1", "scba-2", "axe-1")
	for _, u := range []string{"user-x", "user-y"} {
		store.GrantStation(u, "station-1")
	}
	store.SetDisplayName("user-x", "Xavi")
	store.SetDisplayName("user-y", "Yara")

	workflow, err := service.NewCheckWorkflowService(store, access.NewStationGatekeeper(store), store, zap.NewNop())
	require.NoError(t, err)
	return workflow, store
}
