package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRunSummary indicates no run-end record matched the query.
var ErrNoRunSummary = errors.New("no run summary found")

// RunSummary is the typed view of a stored run-end record.
type RunSummary struct {
	RunNumber        string `json:"run_number"`
	FragmentsWritten uint64 `json:"fragments_written"`
	FinishedAt       string `json:"finished_at"`
	Dataset          string `json:"dataset"`
	Backend          string `json:"backend"`
}

// QueryLatestRunSummary returns the newest run-end record as a RunSummary,
// optionally filtered by run number.
func QueryLatestRunSummary(ctx context.Context, ds lode.Dataset, run string, cfg Config) (*RunSummary, error) {
	record, err := QueryLatestRunEnd(ctx, ds, run)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunNumber: toString(record["run_number"]),
		Dataset:   cfg.Dataset,
		Backend:   cfg.Backend,
	}
	if summary.Dataset == "" {
		summary.Dataset = DefaultDataset
	}
	summary.FragmentsWritten = toUint64(record["fragments_written"])
	if s, ok := record["ts"].(string); ok {
		summary.FinishedAt = s
	}
	return summary, nil
}

// OpenReadDataset builds a Lode dataset for read-side queries from the
// storage configuration blob. The layout must match the write path.
func OpenReadDataset(cfg Config) (lode.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dataset := cfg.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}

	var factory lode.StoreFactory
	switch cfg.Backend {
	case "memory":
		factory = MemoryFactory()
	case "fs":
		factory = FSFactory(cfg.Path)
	case "s3":
		f, err := S3Factory(S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		factory = f
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("run_number", "source_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// QueryLatestRunEnd returns the newest run-end record, optionally filtered
// by run number. Pass run="" for the latest run regardless of number.
func QueryLatestRunEnd(ctx context.Context, ds lode.Dataset, run string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time; iterate in reverse, latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]

		if !snapshotMatchesFilter(snap, "run_number", run) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}

		// Manifest path filtering is a coarse pre-filter; record fields
		// are authoritative.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if record["record_kind"] != RecordKindRunEnd {
				continue
			}
			if run != "" && toString(record["run_number"]) != run {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoRunSummary
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. Exact segment matching avoids substring false positives
// (e.g. run_number=1 matching run_number=10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toUint64 converts a decoded numeric field to uint64.
// JSONL decoding yields float64; the write path hands the codec uint64.
func toUint64(v any) uint64 {
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	default:
		return 0
	}
}
