package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lotebot/internal/eventbus"
	"lotebot/internal/relay"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
)

func rec(id string, at time.Time) DispatchRecord {
	return DispatchRecord{BatchID: id, FiredAt: at, Destination: "@dest", Size: 2, Forwarded: 2, TookMS: 12}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for file driver without path")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "relay.db")
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			for i, id := range []string{"a", "b", "c"} {
				r := rec(id, base.Add(time.Duration(i)*time.Minute))
				if id == "b" {
					r.Failed = 1
					r.Failures = []ItemFailure{{Item: "1:2", Op: relay.OpForward, Error: "boom"}}
				}
				if err := st.AppendDispatch(ctx, r); err != nil {
					t.Fatalf("AppendDispatch(%s): %v", id, err)
				}
			}
			if err := st.AppendAudit(ctx, AuditEntry{ActorID: 7, ChatID: 7, Action: "interval.set", Target: "5m0s"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}

			got, err := st.RecentDispatches(ctx, 2)
			if err != nil {
				t.Fatalf("RecentDispatches: %v", err)
			}
			if len(got) != 2 || got[0].BatchID != "c" || got[1].BatchID != "b" {
				t.Fatalf("recent = %+v", got)
			}
			if len(got[1].Failures) != 1 || got[1].Failures[0].Item != "1:2" {
				t.Fatalf("failures not kept: %+v", got[1].Failures)
			}
			if !got[0].FiredAt.Equal(base.Add(2 * time.Minute)) {
				t.Fatalf("fired_at = %s", got[0].FiredAt)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Records survive a reopen.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			got, err = st.RecentDispatches(ctx, 10)
			if err != nil || len(got) != 3 || got[2].BatchID != "a" {
				t.Fatalf("after reopen = %+v, %v", got, err)
			}
		})
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")
	journal := filepath.Join(dir, "relay.dispatch.jsonl")
	data := `{"batch_id":"a","size":1}` + "\n" + `not json` + "\n" + `{"batch_id":"b","size":2}` + "\n"
	if err := os.WriteFile(journal, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	got, _ := st.RecentDispatches(context.Background(), 0)
	if len(got) != 2 || got[0].BatchID != "b" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestRecordFromReport(t *testing.T) {
	t.Parallel()
	it := relay.Item{Origin: kit.MessageRef{ChatID: 5, MessageID: 9}}
	boom := errors.New("boom")
	rep := relay.BatchReport{
		BatchID: "x",
		Took:    1500 * time.Millisecond,
		Outcomes: []relay.ItemOutcome{
			{Item: it, Err: &relay.ItemError{Op: relay.OpForward, Item: it, Err: boom}},
			{Item: it, Forwarded: true, DeleteErr: &relay.ItemError{Op: relay.OpDelete, Item: it, Err: boom}},
			{Item: it, Forwarded: true, Deleted: true},
		},
		Forwarded:      2,
		Failed:         1,
		DeleteWarnings: 1,
	}
	r := RecordFromReport(rep)
	if r.Size != 3 || r.TookMS != 1500 || len(r.Failures) != 2 {
		t.Fatalf("record = %+v", r)
	}
	if r.Failures[0].Op != relay.OpForward || r.Failures[1].Op != relay.OpDelete || r.Failures[0].Error != "boom" {
		t.Fatalf("failures = %+v", r.Failures)
	}
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rc := NewRecorder(st, bus, logx.Nop())
	go func() { rc.Run(ctx); close(done) }()

	// Publish until the subscriber is attached and the record lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: relay.EventBatchDispatched, Data: relay.BatchReport{BatchID: "z"}})
		got, _ := st.RecentDispatches(context.Background(), 1)
		if len(got) == 1 && got[0].BatchID == "z" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
