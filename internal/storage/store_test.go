package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "entries.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "entries.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		},
	}
}

func rec(id uint32, ws, ch string, start time.Time) *Record {
	return &Record{ID: id, Title: "t", WorkspaceID: ws, ChannelID: ch, Start: start, End: start.Add(time.Hour)}
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()
	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	for name, open := range openDrivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			if _, ok, err := st.FindOne(ctx, Filter{ID: 1}); err != nil || ok {
				t.Fatalf("FindOne on empty store = ok %v err %v", ok, err)
			}
			for _, r := range []*Record{
				rec(3, "ws1", "c1", base.Add(2*time.Hour)),
				rec(1, "ws1", "c1", base),
				rec(2, "ws1", "c2", base.Add(time.Hour)),
				rec(4, "ws2", "c9", base),
			} {
				if err := st.Insert(ctx, r); err != nil {
					t.Fatalf("Insert(%d): %v", r.ID, err)
				}
			}
			if err := st.Insert(ctx, rec(1, "ws1", "c1", base)); !errors.Is(err, ErrDuplicateID) {
				t.Fatalf("duplicate Insert err = %v, want ErrDuplicateID", err)
			}

			got, err := st.Find(ctx, Filter{WorkspaceID: "ws1"})
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if len(got) != 3 || got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 3 {
				t.Fatalf("Find order = %v", ids(got))
			}
			if n, _ := st.Count(ctx, Filter{WorkspaceID: "ws1", ChannelID: "c1"}); n != 2 {
				t.Fatalf("Count(ws1,c1) = %d, want 2", n)
			}
			if _, ok, _ := st.FindOne(ctx, Filter{ID: 4, WorkspaceID: "ws1"}); ok {
				t.Fatal("FindOne must honor every filter term")
			}

			r, ok, err := st.FindOne(ctx, Filter{ID: 2})
			if err != nil || !ok {
				t.Fatalf("FindOne(2) = %v %v", ok, err)
			}
			r.Title = "renamed"
			r.ChannelID = "c1"
			if err := st.Replace(ctx, r); err != nil {
				t.Fatalf("Replace: %v", err)
			}
			if n, _ := st.Count(ctx, Filter{ChannelID: "c1"}); n != 3 {
				t.Fatalf("Replace must reindex channel; Count(c1) = %d", n)
			}
			if err := st.Replace(ctx, rec(99, "ws1", "c1", base)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Replace missing err = %v", err)
			}

			upd, err := st.Update(ctx, 2, func(r *Record) error {
				r.HasStarted = true
				r.Fired = append(r.Fired, "start")
				return nil
			})
			if err != nil || !upd.HasStarted || upd.Title != "renamed" {
				t.Fatalf("Update = %+v, %v", upd, err)
			}
			boom := errors.New("boom")
			if _, err := st.Update(ctx, 2, func(r *Record) error { r.Title = "lost"; return boom }); !errors.Is(err, boom) {
				t.Fatalf("Update mutator error = %v", err)
			}
			if r, _, _ := st.FindOne(ctx, Filter{ID: 2}); r.Title != "renamed" {
				t.Fatalf("aborted Update leaked write: %q", r.Title)
			}
			if _, err := st.Update(ctx, 99, func(*Record) error { return nil }); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update missing err = %v", err)
			}

			if err := st.Delete(ctx, 2); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Delete(ctx, 2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second Delete err = %v", err)
			}
		})
	}
}

func TestStoreUpdateIsAtomic(t *testing.T) {
	t.Parallel()
	for name, open := range openDrivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()
			if err := st.Insert(ctx, rec(7, "ws", "c", time.Now())); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.Update(ctx, 7, func(r *Record) error {
						r.Comments = append(r.Comments, "x")
						return nil
					})
					if err != nil {
						t.Errorf("Update: %v", err)
					}
				}()
			}
			wg.Wait()
			r, _, _ := st.FindOne(ctx, Filter{ID: 7})
			if len(r.Comments) != 20 {
				t.Fatalf("lost updates: %d comments, want 20", len(r.Comments))
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "entries.json")}
	st, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := uint32(1); i <= fileCompactEvery+5; i++ {
		if err := st.Insert(ctx, rec(i, "ws", "c", now)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := st.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Reopen without Close so recovery runs from snapshot plus journal.
	st2, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	n, err := st2.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != fileCompactEvery+4 {
		t.Fatalf("Count after reopen = %d, want %d", n, fileCompactEvery+4)
	}
	if _, ok, _ := st2.FindOne(ctx, Filter{ID: 1}); ok {
		t.Fatal("deleted record came back")
	}
	_ = st.Close()
}

func TestWhereClause(t *testing.T) {
	t.Parallel()
	where, args := whereClause(Filter{ID: 5, ChannelID: "c"}, pgPlaceholder)
	if where != " WHERE id = $1 AND channel_id = $2" || len(args) != 2 {
		t.Fatalf("whereClause = %q %v", where, args)
	}
	if where, args := whereClause(Filter{}, sqlitePlaceholder); where != "" || args != nil {
		t.Fatalf("empty filter = %q %v", where, args)
	}
}

func ids(rs []*Record) []uint32 {
	out := make([]uint32, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
