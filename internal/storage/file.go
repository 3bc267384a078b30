package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	logx "schedbot/pkg/logx"
	"strings"
)

const fileCompactEvery = 500

// fileJournal persists a memoryStore without external dependencies.
//
// Files:
//   - <prefix>.snapshot.json (all records, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only put/del operations)
//
// The journal is compacted into the snapshot every fileCompactEvery writes and
// on Close.
type fileJournal struct {
	log logx.Logger

	snapshotPath string
	f            *os.File
	writes       int
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

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	docs := map[uint32]*Record{}
	if err := loadSnapshot(snapPath, docs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, docs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("journal lines skipped", logx.Int("count", skipped), logx.String("path", journalPath))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("records", len(docs)))
	return &memoryStore{
		docs: docs,
		j:    &fileJournal{log: log, snapshotPath: snapPath, f: jf},
	}, nil
}

func (j *fileJournal) append(op journalOp, docs map[uint32]*Record) error {
	if j.f == nil {
		return ErrClosed
	}
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := j.f.Write(b); err != nil {
		return err
	}
	j.writes++
	if j.writes%fileCompactEvery == 0 {
		// The op is journaled but not yet applied to docs; apply it to the
		// snapshot view so compaction never drops it.
		view := make(map[uint32]*Record, len(docs)+1)
		for k, v := range docs {
			view[k] = v
		}
		applyOp(view, op)
		if err := j.compact(view); err != nil {
			j.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (j *fileJournal) close(docs map[uint32]*Record) error {
	if j.f == nil {
		return nil
	}
	err := j.compact(docs)
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f = nil
	return err
}

func (j *fileJournal) compact(docs map[uint32]*Record) error {
	recs := make([]*Record, 0, len(docs))
	for _, r := range docs {
		recs = append(recs, r)
	}
	sortRecords(recs)

	tmp := j.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapshotPath); err != nil {
		return err
	}
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err = j.f.Seek(0, 2)
	return err
}

func applyOp(docs map[uint32]*Record, op journalOp) {
	switch op.Op {
	case "put":
		if op.Doc != nil && op.ID != 0 {
			docs[op.ID] = op.Doc
		}
	case "del":
		delete(docs, op.ID)
	}
}

func loadSnapshot(path string, out map[uint32]*Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []*Record
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		if r != nil && r.ID != 0 {
			out[r.ID] = r
		}
	}
	return nil
}

// replayJournal applies every readable line of the journal; a torn last line
// from a crash is skipped and counted.
func replayJournal(path string, out map[uint32]*Record) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for s.Scan() {
		var op journalOp
		if err := json.Unmarshal(s.Bytes(), &op); err != nil {
			skipped++
			continue
		}
		applyOp(out, op)
	}
	return skipped, s.Err()
}
