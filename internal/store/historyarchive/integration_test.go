package historyarchive_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/historyarchive"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

// TestMain boots a throwaway Postgres container, applies the embedded
// migrations against it, and shares the resulting pool across this file's
// tests -- mirroring the teacher's contract-test harness for its own
// Postgres stores.
func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "copilot"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "history archive contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/copilot?sslmode=disable", host, port.Port())

	logger := log.New(os.Stderr, "historyarchive-test: ", log.LstdFlags)
	if err := historyarchive.ApplyMigrations(ctx, dsn, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestArchiveAndRecentRoundTrip(t *testing.T) {
	if setupErr != nil {
		t.Skipf("history archive contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := historyarchive.New(testPool)

	householdID := "hh-" + t.Name()
	pack := schema.ReviewPack{
		SessionID:       "sess-1",
		HouseholdID:     householdID,
		GeneratedAtNano: time.Now().UnixNano(),
		Status:          schema.ReviewPackReviewReady,
		Cart: schema.CartSection{
			After: schema.NewCartSnapshot(time.Now().UnixNano(), []schema.CartItem{
				{ProductID: "p1", Name: "Milk", Quantity: 2, UnitPrice: schema.MoneyFromCents(199)},
			}),
		},
		Confidence: schema.Confidence{CartAccuracy: 1.0, DataQuality: 1.0},
	}

	if err := store.Archive(ctx, pack); err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Re-archiving the same SessionID must upsert rather than duplicate.
	pack.Status = schema.ReviewPackReviewReady
	if err := store.Archive(ctx, pack); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	recent, err := store.Recent(ctx, householdID, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 archived pack, got %d", len(recent))
	}
	if recent[0].SessionID != pack.SessionID {
		t.Fatalf("unexpected session id %s", recent[0].SessionID)
	}
}

func TestRecentRespectsHouseholdIsolation(t *testing.T) {
	if setupErr != nil {
		t.Skipf("history archive contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := historyarchive.New(testPool)

	if err := store.Archive(ctx, schema.ReviewPack{SessionID: "sess-a", HouseholdID: "hh-a-" + t.Name()}); err != nil {
		t.Fatalf("archive a: %v", err)
	}
	if err := store.Archive(ctx, schema.ReviewPack{SessionID: "sess-b", HouseholdID: "hh-b-" + t.Name()}); err != nil {
		t.Fatalf("archive b: %v", err)
	}

	recent, err := store.Recent(ctx, "hh-a-"+t.Name(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].SessionID != "sess-a" {
		t.Fatalf("expected only household a's pack, got %+v", recent)
	}
}
