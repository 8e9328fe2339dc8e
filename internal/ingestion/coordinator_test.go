package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"mediasentry/internal/config"
	"mediasentry/internal/database/models"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/parser"
	"mediasentry/internal/parser/generic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type coordinatorFixture struct {
	coord   *Coordinator
	sources repositories.LogSourceRepository
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.LogSource{}, &models.FileState{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	registry := parser.NewRegistry()
	if err := registry.Register(generic.NewParser(testLogger())); err != nil {
		t.Fatalf("Failed to register provider: %v", err)
	}

	cfg := config.IngestionConfig{
		PollInterval:   20 * time.Millisecond,
		BatchSize:      50,
		MaxTailers:     2,
		AdmissionDelay: 25 * time.Millisecond,
	}
	sources := repositories.NewLogSourceRepository(db)
	states := repositories.NewFileStateRepository(db, testLogger())
	collector := &entryCollector{}
	coord := NewCoordinator(sources, states, registry, collector.handle,
		&progressSink{}, cfg, testLogger())
	return &coordinatorFixture{coord: coord, sources: sources}
}

func (f *coordinatorFixture) createSource(t *testing.T, name, provider string) *models.LogSource {
	t.Helper()
	source := &models.LogSource{
		Name:     name,
		Provider: provider,
		Enabled:  true,
		Paths:    t.TempDir(),
		Patterns: "*.log",
	}
	if err := f.sources.Create(source); err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	return source
}

func TestCoordinator_SyncFollowsSourceTable(t *testing.T) {
	f := newCoordinatorFixture(t)
	source := f.createSource(t, "jellyfin-main", "generic")

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Errorf("Expected 1 scheduler after start, got %d", got)
	}

	source.Enabled = false
	if err := f.sources.Update(source); err != nil {
		t.Fatalf("Failed to update source: %v", err)
	}
	if err := f.coord.SyncWithDatabase(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Errorf("Expected the disabled source stopped, got %d schedulers", got)
	}

	source.Enabled = true
	if err := f.sources.Update(source); err != nil {
		t.Fatalf("Failed to update source: %v", err)
	}
	if err := f.coord.SyncWithDatabase(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Errorf("Expected the re-enabled source started, got %d schedulers", got)
	}

	f.coord.Shutdown()
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Errorf("Expected no schedulers after shutdown, got %d", got)
	}
}

func TestCoordinator_SyncIsInertWhileStopped(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.createSource(t, "jellyfin-main", "generic")

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	f.coord.Stop()
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Fatalf("Expected no schedulers after stop, got %d", got)
	}

	if err := f.coord.SyncWithDatabase(); err != nil {
		t.Fatalf("Sync while stopped should be a no-op, got %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Errorf("Expected sync while stopped to start nothing, got %d schedulers", got)
	}

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Failed to restart coordinator: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Errorf("Expected the source back after restart, got %d schedulers", got)
	}
	f.coord.Shutdown()
}

func TestCoordinator_SkipsUnknownProvider(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.createSource(t, "jellyfin-main", "generic")
	f.createSource(t, "nginx-access", "nginx")

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Expected start to survive the unknown provider, got %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Errorf("Expected only the known provider running, got %d schedulers", got)
	}
	f.coord.Shutdown()
}

func TestCoordinator_AddAndRemoveSource(t *testing.T) {
	f := newCoordinatorFixture(t)

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Fatalf("Expected an empty coordinator, got %d schedulers", got)
	}

	source := f.createSource(t, "jellyfin-main", "generic")
	if err := f.coord.AddSource(source); err != nil {
		t.Fatalf("Failed to add source: %v", err)
	}
	if err := f.coord.AddSource(source); err == nil {
		t.Error("Expected adding a running source to fail")
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Errorf("Expected 1 scheduler, got %d", got)
	}

	if err := f.coord.RemoveSource("jellyfin-main"); err != nil {
		t.Fatalf("Failed to remove source: %v", err)
	}
	if err := f.coord.RemoveSource("jellyfin-main"); err == nil {
		t.Error("Expected removing a stopped source to fail")
	}
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Errorf("Expected no schedulers after removal, got %d", got)
	}
	f.coord.Shutdown()
}

func TestCoordinator_RestartDropsDisabledSource(t *testing.T) {
	f := newCoordinatorFixture(t)
	source := f.createSource(t, "jellyfin-main", "generic")

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 1 {
		t.Fatalf("Expected 1 scheduler, got %d", got)
	}

	source.Enabled = false
	if err := f.sources.Update(source); err != nil {
		t.Fatalf("Failed to update source: %v", err)
	}
	if err := f.coord.Restart("jellyfin-main"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if got := f.coord.SchedulerCount(); got != 0 {
		t.Errorf("Expected the disabled source dropped on restart, got %d schedulers", got)
	}
	f.coord.Shutdown()
}
