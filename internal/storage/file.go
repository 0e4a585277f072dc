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

	logx "lotebot/pkg/logx"
)

// recentKeep bounds the in-memory tail served by RecentDispatches.
const recentKeep = 200

// fileStore is the dependency-free backend.
//
// Files:
//   - <prefix>.dispatch.jsonl (append-only JSON Lines, one batch per line)
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//
// The last recentKeep dispatch records are replayed into memory on open.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dispatchFile *os.File
	auditFile    *os.File
	recent       []DispatchRecord // oldest first
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

	dispatchPath := prefix + ".dispatch.jsonl"
	auditPath := prefix + ".audit.jsonl"

	recent, err := replayDispatches(dispatchPath, recentKeep)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dispatch journal replay failed", logx.String("path", dispatchPath), logx.Err(err))
	}

	df, err := os.OpenFile(dispatchPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	log.Debug("file storage opened", logx.String("prefix", prefix), logx.Int("replayed", len(recent)))
	return &fileStore{log: log, dispatchFile: df, auditFile: af, recent: recent}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.dispatchFile != nil {
		err1 = s.dispatchFile.Close()
		s.dispatchFile = nil
	}
	if s.auditFile != nil {
		err2 = s.auditFile.Close()
		s.auditFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendDispatch(_ context.Context, r DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return errors.New("dispatch file closed")
	}
	if err := json.NewEncoder(s.dispatchFile).Encode(r); err != nil {
		return err
	}
	s.recent = append(s.recent, r)
	if over := len(s.recent) - recentKeep; over > 0 {
		s.recent = append([]DispatchRecord(nil), s.recent[over:]...)
	}
	return nil
}

func (s *fileStore) RecentDispatches(_ context.Context, n int) ([]DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]DispatchRecord, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// replayDispatches reads path and keeps the last keep records. Lines that
// don't decode are skipped.
func replayDispatches(path string, keep int) ([]DispatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []DispatchRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r DispatchRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.BatchID == "" {
			continue
		}
		out = append(out, r)
		if len(out) > 2*keep {
			out = append([]DispatchRecord(nil), out[len(out)-keep:]...)
		}
	}
	if len(out) > keep {
		out = out[len(out)-keep:]
	}
	return out, sc.Err()
}
