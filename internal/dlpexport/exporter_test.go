package dlpexport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/store"
)

type fakeSource struct {
	events []store.DecisionEvent
	calls  int
}

func (f *fakeSource) FetchDecisionEvents(_ context.Context, _ string, since time.Time, limit int) ([]store.DecisionEvent, error) {
	f.calls++
	var out []store.DecisionEvent
	for _, ev := range f.events {
		if ev.CreatedAt.After(since) {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func sampleEvents(n int) []store.DecisionEvent {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := make([]store.DecisionEvent, n)
	for i := range events {
		events[i] = store.DecisionEvent{
			DecisionID:    "dec-" + string(rune('a'+i)),
			EventID:       "evt-" + string(rune('a'+i)),
			TenantID:      "tenant-1",
			Domain:        "chat.example.com",
			EventType:     "SUBMIT",
			ContentKind:   "TEXT",
			ContentLength: 100 + i,
			Outcome:       "BLOCK",
			RiskScore:     40,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
	}
	return events
}

func TestExportRoundTrip(t *testing.T) {
	output := filepath.Join(t.TempDir(), "decisions.parquet")
	source := &fakeSource{events: sampleEvents(5)}

	exporter := New(source, Config{
		TenantID: "tenant-1",
		Output:   output,
	}, zap.NewNop())

	result, err := exporter.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rows != 5 {
		t.Fatalf("expected 5 rows, got %d", result.Rows)
	}

	file, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var rows []Row
	for {
		var row Row
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read row: %v", err)
		}
		rows = append(rows, row)
	}

	if len(rows) != 5 {
		t.Fatalf("expected 5 rows read back, got %d", len(rows))
	}
	if rows[0].DecisionID != "dec-a" || rows[0].Outcome != "BLOCK" {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[4].CreatedAtMS <= rows[0].CreatedAtMS {
		t.Error("expected rows ordered by created_at")
	}
}

func TestExportHonorsLimit(t *testing.T) {
	output := filepath.Join(t.TempDir(), "decisions.parquet")
	source := &fakeSource{events: sampleEvents(10)}

	exporter := New(source, Config{
		TenantID: "tenant-1",
		Output:   output,
		Limit:    3,
	}, zap.NewNop())

	result, err := exporter.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", result.Rows)
	}
}

func TestExportBatchesAdvanceCursor(t *testing.T) {
	output := filepath.Join(t.TempDir(), "decisions.parquet")
	source := &fakeSource{events: sampleEvents(10)}

	exporter := New(source, Config{
		TenantID:  "tenant-1",
		Output:    output,
		BatchSize: 4,
	}, zap.NewNop())

	result, err := exporter.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rows != 10 {
		t.Errorf("expected all 10 rows, got %d", result.Rows)
	}
	if source.calls < 3 {
		t.Errorf("expected at least 3 batched fetches, got %d", source.calls)
	}
}

func TestExportEmptySource(t *testing.T) {
	output := filepath.Join(t.TempDir(), "decisions.parquet")
	exporter := New(&fakeSource{}, Config{Output: output}, zap.NewNop())

	result, err := exporter.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rows != 0 {
		t.Errorf("expected 0 rows, got %d", result.Rows)
	}
}
