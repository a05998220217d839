package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/config"
	"github.com/nerrad567/onesmart-bridge/internal/infrastructure/database"
	"github.com/nerrad567/onesmart-bridge/migrations"
)

// setupRepo opens an in-memory database with the real migrations applied.
func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecordAndGetReadings(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }
	if err := repo.RecordReadings(ctx, "10", map[string]any{"room_temperature_zone1": 21.5}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}
	repo.now = func() time.Time { return base.Add(time.Minute) }
	if err := repo.RecordReadings(ctx, "10", map[string]any{"operating_mode": "heating"}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}
	if err := repo.RecordReadings(ctx, "12", map[string]any{"output_1": 40}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}

	readings, err := repo.GetReadings(ctx, "10", 0)
	if err != nil {
		t.Fatalf("GetReadings() error = %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("len(readings) = %d, want 2", len(readings))
	}
	if readings[0].Attribute != "operating_mode" || readings[0].Value != "heating" {
		t.Errorf("newest reading = %+v", readings[0])
	}
	if readings[1].Value != 21.5 {
		t.Errorf("older value = %v, want 21.5", readings[1].Value)
	}
	if !readings[1].RecordedAt.Equal(base) {
		t.Errorf("RecordedAt = %v, want %v", readings[1].RecordedAt, base)
	}
}

func TestReadingsRequireDevice(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.RecordReadings(ctx, "", map[string]any{"a": 1}); !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("RecordReadings() error = %v, want ErrDeviceRequired", err)
	}
	if _, err := repo.GetReadings(ctx, "", 10); !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("GetReadings() error = %v, want ErrDeviceRequired", err)
	}
}

func TestRecordCommand(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rec := &CommandRecord{
		DescriptorID:  "onesmart-12-output_1",
		Channel:       "poll",
		Command:       "apparatus",
		Fields:        map[string]any{"action": "set", "id": "12"},
		Outcome:       OutcomeSent,
		TransactionID: 42,
		Source:        SourceAPI,
	}
	if err := repo.RecordCommand(ctx, rec); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Error("RecordCommand() did not fill ID and CreatedAt")
	}

	records, err := repo.ListCommands(ctx, 10)
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	got := records[0]
	if got.ID != rec.ID || got.TransactionID != 42 || got.Fields["action"] != "set" || got.Source != SourceAPI {
		t.Errorf("record = %+v", got)
	}
}

func TestPrune(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	repo.now = func() time.Time { return old }
	if err := repo.RecordReadings(ctx, "10", map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}
	if err := repo.RecordCommand(ctx, &CommandRecord{Channel: "poll", Command: "ping", Outcome: OutcomeSent, Source: SourceMQTT}); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	repo.now = time.Now
	if err := repo.RecordReadings(ctx, "10", map[string]any{"c": 3}); err != nil {
		t.Fatalf("RecordReadings() error = %v", err)
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() = %d, want 3", n)
	}

	readings, _ := repo.GetReadings(ctx, "10", 10)
	if len(readings) != 1 || readings[0].Attribute != "c" {
		t.Errorf("remaining readings = %+v", readings)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{10, 10},
		{10000, maxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
