package store

import (
	"context"
	"errors"
	"testing"

	"github.com/mfkiwl/dfmodules/types"
)

func TestQueryLatestRunEnd(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Backend: "fs", Path: tmp, Dataset: "datawriter"}

	s, err := NewLodeStore("datawriter", FSFactory(tmp))
	if err != nil {
		t.Fatalf("NewLodeStore: %v", err)
	}

	ctx := context.Background()
	if err := s.PrepareRun(ctx, 4); err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	part := &types.RecordPart{RunNumber: 4, EventID: 1, SourceID: "det0", Payload: []byte("x")}
	if err := s.Write(ctx, part); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.FinishRun(ctx, 4); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	ds, err := OpenReadDataset(cfg)
	if err != nil {
		t.Fatalf("OpenReadDataset: %v", err)
	}

	record, err := QueryLatestRunEnd(ctx, ds, "4")
	if err != nil {
		t.Fatalf("QueryLatestRunEnd: %v", err)
	}
	if record["record_kind"] != RecordKindRunEnd {
		t.Errorf("record_kind = %v, want %q", record["record_kind"], RecordKindRunEnd)
	}
	if record["run_number"] != "4" {
		t.Errorf("run_number = %v, want \"4\"", record["run_number"])
	}

	// Empty filter returns the latest run-end record.
	latest, err := QueryLatestRunEnd(ctx, ds, "")
	if err != nil {
		t.Fatalf("QueryLatestRunEnd latest: %v", err)
	}
	if latest["run_number"] != "4" {
		t.Errorf("latest run_number = %v, want \"4\"", latest["run_number"])
	}
}

func TestQueryLatestRunSummary(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Backend: "fs", Path: tmp, Dataset: "datawriter"}

	s, err := NewLodeStore("datawriter", FSFactory(tmp))
	if err != nil {
		t.Fatalf("NewLodeStore: %v", err)
	}

	ctx := context.Background()
	if err := s.PrepareRun(ctx, 7); err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	for range 3 {
		part := &types.RecordPart{RunNumber: 7, EventID: 1, SourceID: "det0", Payload: []byte("x")}
		if err := s.Write(ctx, part); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.FinishRun(ctx, 7); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	ds, err := OpenReadDataset(cfg)
	if err != nil {
		t.Fatalf("OpenReadDataset: %v", err)
	}

	summary, err := QueryLatestRunSummary(ctx, ds, "7", cfg)
	if err != nil {
		t.Fatalf("QueryLatestRunSummary: %v", err)
	}
	if summary.RunNumber != "7" {
		t.Errorf("RunNumber = %q, want %q", summary.RunNumber, "7")
	}
	if summary.FragmentsWritten != 3 {
		t.Errorf("FragmentsWritten = %d, want 3", summary.FragmentsWritten)
	}
	if summary.FinishedAt == "" {
		t.Error("FinishedAt is empty")
	}
	if summary.Backend != "fs" || summary.Dataset != "datawriter" {
		t.Errorf("Backend/Dataset = %q/%q, want fs/datawriter", summary.Backend, summary.Dataset)
	}
}

func TestQueryLatestRunEnd_NoMatch(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Backend: "fs", Path: tmp, Dataset: "datawriter"}

	ds, err := OpenReadDataset(cfg)
	if err != nil {
		t.Fatalf("OpenReadDataset: %v", err)
	}

	_, err = QueryLatestRunEnd(context.Background(), ds, "99")
	if !errors.Is(err, ErrNoRunSummary) {
		t.Errorf("err = %v, want ErrNoRunSummary", err)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	tests := []struct {
		path  string
		key   string
		value string
		want  bool
	}{
		{"run_number=4/source_id=det0/data.jsonl", "run_number", "4", true},
		{"run_number=40/source_id=det0/data.jsonl", "run_number", "4", false},
		{"run_number=4/source_id=det0/data.jsonl", "source_id", "det0", true},
		{"run_number=4/source_id=det0/data.jsonl", "source_id", "det1", false},
	}

	for _, tt := range tests {
		got := matchesPartitionValue(tt.path, tt.key, tt.value)
		if got != tt.want {
			t.Errorf("matchesPartitionValue(%q, %q, %q) = %v, want %v",
				tt.path, tt.key, tt.value, got, tt.want)
		}
	}
}
