package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mfkiwl/dfmodules/types"
)

// DataStore abstracts the storage backend consumed by the datawriter.
//
// Lifecycle: Open constructs the backend once at configure time; PrepareRun
// and FinishRun bracket each run; Write persists one record part. Write
// errors are classified; the caller distinguishes retryable from fatal via
// IsRetryable.
type DataStore interface {
	// PrepareRun readies the backend for a new run.
	PrepareRun(ctx context.Context, run types.RunNumber) error

	// Write persists one record part. Returns a classified error on failure.
	Write(ctx context.Context, part *types.RecordPart) error

	// FinishRun finalizes the backend state for the run (closing run files,
	// writing the run-end record). Failures are reported, not fatal to stop.
	FinishRun(ctx context.Context, run types.RunNumber) error

	// Close releases backend resources.
	Close() error
}

// Config is the storage configuration blob captured at configure time.
type Config struct {
	// Backend selects the storage implementation: "memory", "fs", or "s3".
	Backend string `yaml:"backend"`
	// Dataset is the dataset identifier records are written under.
	Dataset string `yaml:"dataset"`
	// Path is the root directory for the fs backend.
	Path string `yaml:"path"`
	// Bucket is the S3 bucket name for the s3 backend.
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix within the bucket.
	Prefix string `yaml:"prefix"`
	// Region is the AWS region (optional, default chain if empty).
	Region string `yaml:"region"`
	// Endpoint is a custom S3 endpoint for S3-compatible providers.
	Endpoint string `yaml:"endpoint"`
	// S3PathStyle forces path-style addressing (MinIO, R2).
	S3PathStyle bool `yaml:"s3_path_style"`
}

// Validate checks that required configuration is present for the backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "fs":
		if c.Path == "" {
			return fmt.Errorf("fs backend requires a path")
		}
		return nil
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("s3 backend requires a bucket")
		}
		return nil
	case "":
		return fmt.Errorf("storage backend is required")
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// Open constructs a DataStore from the configuration blob.
// Construction failure must abort the configure transition.
func Open(cfg Config) (DataStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, WrapInitError(err, cfg.Backend)
	}

	dataset := cfg.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}

	switch cfg.Backend {
	case "memory":
		ds, err := NewLodeStore(dataset, MemoryFactory())
		return ds, WrapInitError(err, cfg.Backend)
	case "fs":
		ds, err := NewLodeStore(dataset, FSFactory(cfg.Path))
		return ds, WrapInitError(err, cfg.Backend)
	case "s3":
		ds, err := NewLodeS3Store(dataset, S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
		return ds, WrapInitError(err, cfg.Backend)
	default:
		return nil, WrapInitError(fmt.Errorf("unknown backend %q", cfg.Backend), cfg.Backend)
	}
}

// StubStore is a test store that records writes without persisting.
// Failure injection drives the retry-engine tests.
type StubStore struct {
	mu sync.Mutex

	// Prepared records PrepareRun calls.
	Prepared []types.RunNumber
	// Finished records FinishRun calls.
	Finished []types.RunNumber
	// Written stores all written parts for inspection.
	Written []*types.RecordPart
	// Closed indicates whether Close was called.
	Closed bool

	// WriteErrs is consumed one per Write call before Written is appended.
	// A nil entry means the write succeeds.
	WriteErrs []error
	// PrepareErr is returned by PrepareRun when set.
	PrepareErr error
	// FinishErr is returned by FinishRun when set.
	FinishErr error
}

// NewStubStore creates a new stub store.
func NewStubStore() *StubStore {
	return &StubStore{}
}

// PrepareRun implements DataStore.
func (s *StubStore) PrepareRun(_ context.Context, run types.RunNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PrepareErr != nil {
		return s.PrepareErr
	}
	s.Prepared = append(s.Prepared, run)
	return nil
}

// Write implements DataStore. Consumes one injected error per call.
func (s *StubStore) Write(_ context.Context, part *types.RecordPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.WriteErrs) > 0 {
		err := s.WriteErrs[0]
		s.WriteErrs = s.WriteErrs[1:]
		if err != nil {
			return err
		}
	}
	s.Written = append(s.Written, part)
	return nil
}

// FinishRun implements DataStore.
func (s *StubStore) FinishRun(_ context.Context, run types.RunNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FinishErr != nil {
		return s.FinishErr
	}
	s.Finished = append(s.Finished, run)
	return nil
}

// Close implements DataStore.
func (s *StubStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// WrittenCount returns the number of successfully written parts.
func (s *StubStore) WrittenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Written)
}

// Verify StubStore implements DataStore.
var _ DataStore = (*StubStore)(nil)
