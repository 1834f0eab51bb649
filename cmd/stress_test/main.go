package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/adapter/access"
	"github.com/rl1809/apparatus-check/internal/adapter/storage"
	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/core/service"
)

const (
	vehicleID        = "engine-stress"
	stationID        = "station-stress"
	compartmentCount = 5
	itemsPerComp     = 20
	userCount        = 8
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	compartments := make([]domain.Compartment, compartmentCount)
	for i := range compartments {
		compartments[i] = domain.Compartment{
			ID:            fmt.Sprintf("comp-%d", i),
			Name:          fmt.Sprintf("Compartment %d", i),
			ExpectedItems: itemsPerComp,
		}
	}
	store.AddVehicle(vehicleID, stationID, compartments...)
	for u := 0; u < userCount; u++ {
		store.GrantStation(fmt.Sprintf("user-%d", u), stationID)
	}

	var opts []service.Option
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, service.WithVerificationGuard(storage.NewRedisAdapter(rdb, time.Hour)))
		fmt.Println("using redis verification guard")
	}

	workflow, err := service.NewCheckWorkflowService(store, access.NewStationGatekeeper(store), store, zap.NewNop(), opts...)
	if err != nil {
		log.Fatalf("failed to build workflow: %v", err)
	}

	check, err := workflow.StartCheck(ctx, "user-0", service.StartCheckRequest{VehicleID: vehicleID})
	if err != nil {
		log.Fatalf("failed to start check: %v", err)
	}

	var verified, duplicates, locked, takeovers atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	// Every user tries every item of every compartment, so each item is
	// attempted userCount times and must be recorded exactly once.
	for u := 0; u < userCount; u++ {
		wg.Add(1)
		go func(user string, offset int) {
			defer wg.Done()
			for c := 0; c < compartmentCount; c++ {
				comp := compartments[(c+offset)%compartmentCount].ID
				if err := workflow.AcquireCompartment(ctx, user, check.ID, comp); err != nil {
					if !errors.Is(err, domain.ErrCompartmentLocked) {
						log.Printf("%s: acquire %s: %v", user, comp, err)
						continue
					}
					locked.Add(1)
					if _, err := workflow.TakeOverCompartment(ctx, user, check.ID, comp); err != nil {
						log.Printf("%s: take over %s: %v", user, comp, err)
						continue
					}
					takeovers.Add(1)
				}
				for i := 0; i < itemsPerComp; i++ {
					_, err := workflow.VerifyItem(ctx, user, service.VerifyRequest{
						CheckID:           check.ID,
						CompartmentID:     comp,
						ConsumableStockID: fmt.Sprintf("%s-item-%d", comp, i),
						Status:            domain.VerificationPresent,
					})
					switch {
					case err == nil:
						verified.Add(1)
					case errors.Is(err, domain.ErrItemAlreadyVerified):
						duplicates.Add(1)
					case errors.Is(err, domain.ErrCompartmentLocked):
						locked.Add(1)
					default:
						log.Printf("%s: verify: %v", user, err)
					}
				}
				workflow.ReleaseCompartment(ctx, user, check.ID, comp)
			}
			workflow.EndSession(ctx, user)
		}(fmt.Sprintf("user-%d", u), u)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Pick up anything lost to take-overs.
	for c := 0; c < compartmentCount; c++ {
		comp := compartments[c].ID
		for i := 0; i < itemsPerComp; i++ {
			_, err := workflow.VerifyItem(ctx, "user-0", service.VerifyRequest{
				CheckID:           check.ID,
				CompartmentID:     comp,
				ConsumableStockID: fmt.Sprintf("%s-item-%d", comp, i),
				Status:            domain.VerificationPresent,
			})
			if err == nil {
				verified.Add(1)
			}
		}
	}

	total := compartmentCount * itemsPerComp
	records, _ := store.ListVerifications(ctx, check.ID)
	final, err := store.GetCheck(ctx, check.ID)
	if err != nil {
		log.Fatalf("failed to reload check: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Users:            %d\n", userCount)
	fmt.Printf("Items:            %d\n", total)
	fmt.Printf("Verified:         %d\n", verified.Load())
	fmt.Printf("Duplicates:       %d\n", duplicates.Load())
	fmt.Printf("Lock conflicts:   %d\n", locked.Load())
	fmt.Printf("Take-overs:       %d\n", takeovers.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if int(verified.Load()) == total && len(records) == total {
		fmt.Printf("PASS: every item recorded exactly once (%d)\n", total)
	} else {
		fmt.Printf("FAIL: expected %d records, got %d (verified %d)\n", total, len(records), verified.Load())
	}

	if final.Progress.Verified == len(records) {
		fmt.Println("PASS: progress counter matches stored records")
	} else {
		fmt.Printf("FAIL: progress counter %d, records %d\n", final.Progress.Verified, len(records))
	}

	if _, err := workflow.CompleteCheck(ctx, "user-0", check.ID); err == nil {
		fmt.Println("PASS: check completed")
	} else {
		fmt.Printf("FAIL: complete: %v\n", err)
	}

	if n := len(workflow.Locks().LocksForCheck(check.ID)); n == 0 {
		fmt.Println("PASS: no locks outlive the check")
	} else {
		fmt.Printf("FAIL: %d locks remain\n", n)
	}
}
