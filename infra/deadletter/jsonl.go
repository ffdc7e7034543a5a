// Package deadletter keeps messages the pipeline had to drop in a rotating
// JSONL file.
package deadletter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilianp07/fleetrisk/core/ingest"
)

// Config mirrors the deadletter config section. An empty Path disables the
// store.
type Config struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// JSONLStore appends one JSON object per dropped message.
type JSONLStore struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	enc  *json.Encoder
	path string
}

// NewJSONLStore creates the parent directory and prepares the rotating file.
func NewJSONLStore(cfg Config) (*JSONLStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &JSONLStore{out: lj, enc: json.NewEncoder(lj), path: cfg.Path}, nil
}

func (s *JSONLStore) WriteDeadLetter(rec ingest.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

// ReadAll returns the records of the current and rotated files, oldest
// first. Lines that do not parse are skipped.
func (s *JSONLStore) ReadAll() ([]ingest.DeadLetter, error) {
	files, err := filepath.Glob(s.path + "*")
	if err != nil {
		return nil, err
	}
	backups, _ := filepath.Glob(backupPattern(s.path))
	files = append(files, backups...)

	var res []ingest.DeadLetter
	seen := map[string]bool{}
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		file, err := os.Open(f)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(file)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			var r ingest.DeadLetter
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				continue
			}
			res = append(res, r)
		}
		_ = file.Close()
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Time.Before(res[j].Time) })
	return res, nil
}

// backupPattern matches lumberjack backups, which insert a timestamp
// before the extension: dead.jsonl -> dead-2024-05-01T10-00-00.000.jsonl.
func backupPattern(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "-*" + ext
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
