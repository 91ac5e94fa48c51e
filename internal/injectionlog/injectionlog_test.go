package injectionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/GReX-Telescope/GReX-T0/internal/injection"
)

func TestInsertAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "injections.db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := injection.Record{MJD: 123.456, Sample: 12345, Filename: "foo.dat"}
	if err := l.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	var count int
	if err := l2.db.QueryRow("SELECT COUNT(*) FROM injection").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "injections.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	recordChan := make(chan injection.Record)
	done := make(chan struct{})
	go func() {
		Run(ctx, l, recordChan, func(args ...any) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
