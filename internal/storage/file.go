package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mailblast/internal/campaign"
	"mailblast/internal/classify"
	logx "mailblast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.json      (full snapshot, atomically replaced)
//   - <prefix>.outcomes.jsonl (append-only JSON Lines)
//
// Runs are few (one per campaign) and flushed per batch, so rewriting the
// snapshot on every SaveRun is cheap. Outcomes are append-only and scanned
// on read; the control API caps how much it asks for.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath     string
	runs         map[string]campaign.Run
	outcomesFile *os.File
	outcomesPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.json"
	outcomesPath := prefix + ".outcomes.jsonl"

	runs := map[string]campaign.Run{}
	if err := loadRunsSnapshot(runsPath, runs); err != nil && !os.IsNotExist(err) {
		log.Warn("runs snapshot unreadable; starting empty", logx.String("path", runsPath), logx.Err(err))
	}

	of, err := os.OpenFile(outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		runsPath:     runsPath,
		runs:         runs,
		outcomesFile: of,
		outcomesPath: outcomesPath,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile == nil {
		return nil
	}
	err := s.outcomesFile.Close()
	s.outcomesFile = nil
	return err
}

func (s *fileStore) SaveRun(ctx context.Context, run campaign.Run) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile == nil {
		return ErrClosed
	}
	s.runs[run.CampaignID] = run
	return s.writeRunsLocked()
}

func (s *fileStore) GetRun(ctx context.Context, campaignID string) (campaign.Run, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[campaignID]
	return run, ok, nil
}

func (s *fileStore) ListRuns(ctx context.Context) ([]campaign.Run, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]campaign.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *fileStore) AppendOutcome(ctx context.Context, rec OutcomeRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.outcomesFile).Encode(rec)
}

func (s *fileStore) ListOutcomes(ctx context.Context, campaignID, classification string, limit int) ([]OutcomeRecord, error) {
	_ = ctx
	var out []OutcomeRecord
	err := s.scanOutcomes(func(rec OutcomeRecord) {
		if rec.CampaignID != campaignID {
			return
		}
		if classification != "" && rec.Classification != classification {
			return
		}
		out = append(out, rec)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fileStore) BouncedRecipients(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	_ = ctx
	set := map[string]struct{}{}
	err := s.scanOutcomes(func(rec OutcomeRecord) {
		if rec.CampaignID == campaignID && rec.Classification == string(classify.Bounced) {
			set[rec.Recipient] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *fileStore) scanOutcomes(fn func(OutcomeRecord)) error {
	f, err := os.Open(s.outcomesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec OutcomeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		fn(rec)
	}
	return sc.Err()
}

func (s *fileStore) writeRunsLocked() error {
	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.runs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.runsPath)
}

func loadRunsSnapshot(path string, out map[string]campaign.Run) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]campaign.Run
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
