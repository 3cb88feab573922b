package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"rlfit/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	seq         int
	runs        map[string]storedRun
	recovery    map[string][]model.RecoveryRecord
	split       map[string][]model.SplitRecoveryRecord
	subjectFits map[string][]model.SubjectFitRecord
}

type storedRun struct {
	run model.RunRecord
	seq int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.seq = 0
	s.runs = make(map[string]storedRun)
	s.recovery = make(map[string][]model.RecoveryRecord)
	s.split = make(map[string][]model.SplitRecoveryRecord)
	s.subjectFits = make(map[string][]model.SubjectFitRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	existing, ok := s.runs[run.ID]
	seq := existing.seq
	if !ok {
		s.seq++
		seq = s.seq
	}
	s.runs[run.ID] = storedRun{run: run, seq: seq}
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.runs[id]
	return stored.run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := make([]storedRun, 0, len(s.runs))
	for _, r := range s.runs {
		stored = append(stored, r)
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].run.CreatedAtUTC == stored[j].run.CreatedAtUTC {
			// Prefer later saved runs for equal timestamps.
			return stored[i].seq > stored[j].seq
		}
		return stored[i].run.CreatedAtUTC > stored[j].run.CreatedAtUTC
	})
	out := make([]model.RunRecord, len(stored))
	for i, r := range stored {
		out[i] = r.run
	}
	return out, nil
}

func (s *MemoryStore) SaveRecovery(_ context.Context, runID string, records []model.RecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.recovery[runID] = append([]model.RecoveryRecord{}, records...)
	return nil
}

func (s *MemoryStore) GetRecovery(_ context.Context, runID string) ([]model.RecoveryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.recovery[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.RecoveryRecord{}, records...), true, nil
}

func (s *MemoryStore) SaveSplitRecovery(_ context.Context, runID string, records []model.SplitRecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.split[runID] = append([]model.SplitRecoveryRecord{}, records...)
	return nil
}

func (s *MemoryStore) GetSplitRecovery(_ context.Context, runID string) ([]model.SplitRecoveryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.split[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.SplitRecoveryRecord{}, records...), true, nil
}

func (s *MemoryStore) SaveSubjectFits(_ context.Context, runID string, fits []model.SubjectFitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.subjectFits[runID] = cloneFits(fits)
	return nil
}

func (s *MemoryStore) GetSubjectFits(_ context.Context, runID string) ([]model.SubjectFitRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fits, ok := s.subjectFits[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneFits(fits), true, nil
}

func cloneFits(fits []model.SubjectFitRecord) []model.SubjectFitRecord {
	out := make([]model.SubjectFitRecord, len(fits))
	for i, f := range fits {
		out[i] = f.Clone()
	}
	return out
}

var errNotInitialized = errors.New("store is not initialized")
