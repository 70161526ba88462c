// Package store provides chronos record storage backed by NATS KV. The
// fix bucket has a single writer (the coordinator); revisions returned
// from Get feed compare-and-swap updates so redelivered events cannot
// clobber newer state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Bucket names for each record type.
const (
	BucketFixes         = "CHRONOS_FIXES"
	BucketVerifications = "CHRONOS_VERIFICATIONS"
	BucketGenerations   = "CHRONOS_GENERATIONS"
	BucketProblems      = "CHRONOS_PROBLEMS"
	BucketSolutions     = "CHRONOS_SOLUTIONS"
)

// Store provides record storage operations backed by NATS KV.
type Store struct {
	fixes         jetstream.KeyValue
	verifications jetstream.KeyValue
	generations   jetstream.KeyValue
	problems      jetstream.KeyValue
	solutions     jetstream.KeyValue
}

// NewStore creates a Store with the given JetStream context. It creates
// the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	fixes, err := getOrCreateBucket(ctx, js, BucketFixes)
	if err != nil {
		return nil, fmt.Errorf("create fixes bucket: %w", err)
	}

	verifications, err := getOrCreateBucket(ctx, js, BucketVerifications)
	if err != nil {
		return nil, fmt.Errorf("create verifications bucket: %w", err)
	}

	generations, err := getOrCreateBucket(ctx, js, BucketGenerations)
	if err != nil {
		return nil, fmt.Errorf("create generations bucket: %w", err)
	}

	problems, err := getOrCreateBucket(ctx, js, BucketProblems)
	if err != nil {
		return nil, fmt.Errorf("create problems bucket: %w", err)
	}

	solutions, err := getOrCreateBucket(ctx, js, BucketSolutions)
	if err != nil {
		return nil, fmt.Errorf("create solutions bucket: %w", err)
	}

	return &Store{
		fixes:         fixes,
		verifications: verifications,
		generations:   generations,
		problems:      problems,
		solutions:     solutions,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Chronos %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// CreateFix stores a newly proposed fix. Returns ErrExists if the fix id is
// already taken.
func (s *Store) CreateFix(ctx context.Context, f *fix.Fix) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}

	if _, err := s.fixes.Create(ctx, f.FixID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("fix %s: %w", f.FixID, ErrExists)
		}
		return fmt.Errorf("store fix %s: %w", f.FixID, err)
	}

	return nil
}

// GetFix retrieves a fix and its KV revision for compare-and-swap updates.
func (s *Store) GetFix(ctx context.Context, fixID string) (*fix.Fix, uint64, error) {
	entry, err := s.fixes.Get(ctx, fixID)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get fix %s: %w", fixID, err)
	}

	var f fix.Fix
	if err := json.Unmarshal(entry.Value(), &f); err != nil {
		return nil, 0, fmt.Errorf("unmarshal fix %s: %w", fixID, err)
	}

	return &f, entry.Revision(), nil
}

// UpdateFix writes a fix conditioned on the revision read earlier. A stale
// revision fails the write; callers re-read and re-apply.
func (s *Store) UpdateFix(ctx context.Context, f *fix.Fix, revision uint64) (uint64, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("marshal fix: %w", err)
	}

	newRevision, err := s.fixes.Update(ctx, f.FixID, data, revision)
	if err != nil {
		return 0, fmt.Errorf("update fix %s at revision %d: %w", f.FixID, revision, err)
	}

	return newRevision, nil
}

// ListFixes returns all stored fixes. Entries that fail to load are skipped.
func (s *Store) ListFixes(ctx context.Context) ([]*fix.Fix, error) {
	keys, err := s.fixes.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list fix keys: %w", err)
	}

	fixes := make([]*fix.Fix, 0, len(keys))
	for _, key := range keys {
		entry, err := s.fixes.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var f fix.Fix
		if err := json.Unmarshal(entry.Value(), &f); err != nil {
			continue
		}
		fixes = append(fixes, &f)
	}

	return fixes, nil
}

// PutVerification stores a verification record keyed by fix id, replacing
// any previous revision.
func (s *Store) PutVerification(ctx context.Context, record *fix.VerificationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	if _, err := s.verifications.Put(ctx, record.FixID, data); err != nil {
		return fmt.Errorf("store verification %s: %w", record.FixID, err)
	}

	return nil
}

// GetVerification retrieves the verification record for a fix.
func (s *Store) GetVerification(ctx context.Context, fixID string) (*fix.VerificationRecord, error) {
	entry, err := s.verifications.Get(ctx, fixID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get verification %s: %w", fixID, err)
	}

	var record fix.VerificationRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return nil, fmt.Errorf("unmarshal verification %s: %w", fixID, err)
	}

	return &record, nil
}

// ProblemSeen reports whether a problem id has already been recorded.
func (s *Store) ProblemSeen(ctx context.Context, problemID string) (bool, error) {
	_, err := s.problems.Get(ctx, problemID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get problem %s: %w", problemID, err)
	}
	return true, nil
}

// MarkProblemSeen records a problem id for dedupe. Returns true when this
// is the first sighting, false when the problem was already recorded.
func (s *Store) MarkProblemSeen(ctx context.Context, p *problem.Problem) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal problem: %w", err)
	}

	_, err = s.problems.Create(ctx, p.ProblemID, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("mark problem %s: %w", p.ProblemID, err)
	}

	return true, nil
}

// MarkSolutionSeen records which fix wraps a solution. Returns true when
// this is the first sighting, false when a fix was already minted for the
// solution, so redelivered solution events cannot produce a second fix.
func (s *Store) MarkSolutionSeen(ctx context.Context, solutionID, fixID string) (bool, error) {
	_, err := s.solutions.Create(ctx, solutionID, []byte(fixID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("mark solution %s: %w", solutionID, err)
	}

	return true, nil
}

// SolutionFix returns the fix id recorded for a solution, or ErrNotFound
// when the solution has no marker yet.
func (s *Store) SolutionFix(ctx context.Context, solutionID string) (string, error) {
	entry, err := s.solutions.Get(ctx, solutionID)
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get solution %s: %w", solutionID, err)
	}
	return string(entry.Value()), nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found")
}
