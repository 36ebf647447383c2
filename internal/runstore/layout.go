package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mthorpe/conveyor/internal/domain"
)

// Run directory layout, relative to the run's directory:
//
//	state.json                  canonical Run record
//	crp/<uuid>.json             consultation requests, one file each
//	vcr/<uuid>.json             human decisions, one file each
//	<worker>/prompt.md          prompt artifact for the worker
//	<worker>/done.flag          presence signals worker completion
//	<worker>/error.json         worker-reported failure detail
//	gatekeeper/verdict.json     gate verdict
const (
	crpDir       = "crp"
	vcrDir       = "vcr"
	doneFlag     = "done.flag"
	errorFile    = "error.json"
	promptFile   = "prompt.md"
	verdictFile  = "verdict.json"
	crpPattern   = "crp/*.json"
	vcrPattern   = "vcr/*.json"
	donePattern  = "*/done.flag"
	errorPattern = "*/error.json"
)

// PromptPath returns the prompt artifact path for a worker.
func (s *Store) PromptPath(runID string, worker domain.WorkerName) string {
	return filepath.Join(s.RunDir(runID), string(worker), promptFile)
}

// DoneFlagPath returns the completion marker path for a worker.
func (s *Store) DoneFlagPath(runID string, worker domain.WorkerName) string {
	return filepath.Join(s.RunDir(runID), string(worker), doneFlag)
}

// WriteDoneFlag creates the completion marker for a worker. Workers normally
// write this themselves; it exists here for tests and manual intervention.
func (s *Store) WriteDoneFlag(runID string, worker domain.WorkerName) error {
	path := s.DoneFlagPath(runID, worker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0o644)
}

// ClearDoneFlag removes a worker's completion marker, e.g. before a rework
// iteration restarts the worker.
func (s *Store) ClearDoneFlag(runID string, worker domain.WorkerName) error {
	err := os.Remove(s.DoneFlagPath(runID, worker))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SaveConsultation writes a consultation request to crp/<id>.json.
func (s *Store) SaveConsultation(req *domain.ConsultationRequest) error {
	return s.writeJSON(filepath.Join(s.RunDir(req.RunID), crpDir, req.ID+".json"), req)
}

// ListConsultations reads every consultation request recorded for a run.
func (s *Store) ListConsultations(runID string) ([]*domain.ConsultationRequest, error) {
	paths, err := s.glob(runID, crpPattern)
	if err != nil {
		return nil, err
	}
	var out []*domain.ConsultationRequest
	for _, p := range paths {
		var req domain.ConsultationRequest
		if err := readJSON(p, &req); err != nil {
			s.log.Warn("crp_unreadable", map[string]interface{}{"run": runID, "path": p}, err)
			continue
		}
		out = append(out, &req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveDecision writes a human decision to vcr/<id>.json.
func (s *Store) SaveDecision(runID string, dec *domain.HumanDecision) error {
	return s.writeJSON(filepath.Join(s.RunDir(runID), vcrDir, dec.ID+".json"), dec)
}

// ListDecisions reads every human decision recorded for a run.
func (s *Store) ListDecisions(runID string) ([]*domain.HumanDecision, error) {
	paths, err := s.glob(runID, vcrPattern)
	if err != nil {
		return nil, err
	}
	var out []*domain.HumanDecision
	for _, p := range paths {
		var dec domain.HumanDecision
		if err := readJSON(p, &dec); err != nil {
			s.log.Warn("vcr_unreadable", map[string]interface{}{"run": runID, "path": p}, err)
			continue
		}
		out = append(out, &dec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

// UnresolvedConsultations returns the requests with no matching decision,
// recomputed from disk on every call.
func (s *Store) UnresolvedConsultations(runID string) ([]*domain.ConsultationRequest, error) {
	reqs, err := s.ListConsultations(runID)
	if err != nil {
		return nil, err
	}
	decs, err := s.ListDecisions(runID)
	if err != nil {
		return nil, err
	}
	return domain.UnresolvedRequests(reqs, decs), nil
}

// WriteVerdict records the gate verdict. Used by tests and the consult CLI;
// the gatekeeper worker writes this file in production.
func (s *Store) WriteVerdict(runID string, rec *domain.VerdictRecord) error {
	return s.writeJSON(filepath.Join(s.RunDir(runID), string(domain.WorkerGatekeeper), verdictFile), rec)
}

// ReadVerdict loads and validates gatekeeper/verdict.json.
func (s *Store) ReadVerdict(runID string) (domain.GateVerdict, *domain.VerdictRecord, error) {
	path := filepath.Join(s.RunDir(runID), string(domain.WorkerGatekeeper), verdictFile)
	var rec domain.VerdictRecord
	if err := readJSON(path, &rec); err != nil {
		return "", nil, fmt.Errorf("read verdict for %s: %w", runID, err)
	}
	verdict, err := domain.ParseVerdict(rec.Verdict)
	if err != nil {
		return "", nil, err
	}
	return verdict, &rec, nil
}

// WriteWorkerError records a worker-reported failure detail file.
func (s *Store) WriteWorkerError(runID string, worker domain.WorkerName, runErr *domain.RunError) error {
	return s.writeJSON(filepath.Join(s.RunDir(runID), string(worker), errorFile), runErr)
}

// ReadWorkerError loads a worker's error.json if present.
func (s *Store) ReadWorkerError(runID string, worker domain.WorkerName) (*domain.RunError, bool) {
	var runErr domain.RunError
	path := filepath.Join(s.RunDir(runID), string(worker), errorFile)
	if err := readJSON(path, &runErr); err != nil {
		return nil, false
	}
	return &runErr, true
}

// ClearWorkerError removes a worker's error.json, e.g. before the worker is
// relaunched on a retry.
func (s *Store) ClearWorkerError(runID string, worker domain.WorkerName) error {
	err := os.Remove(filepath.Join(s.RunDir(runID), string(worker), errorFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) glob(runID, pattern string) ([]string, error) {
	fsys := os.DirFS(s.RunDir(runID))
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(s.RunDir(runID), m))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Same atomic discipline as state.json: the event source may read these
	// files the moment they appear.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
