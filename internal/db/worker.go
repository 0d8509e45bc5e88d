package db

import (
	"context"
	"database/sql"
)

// TxFn runs inside a write transaction owned by the Worker.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// Worker serializes all writes through a single goroutine.  SQLite allows one
// writer at a time; funneling every mutation through here means callers never
// see SQLITE_BUSY under concurrent ingestion.
type Worker struct {
	db   *sql.DB
	jobs chan writeJob
	done chan struct{}
}

type writeJob struct {
	ctx    context.Context
	fn     TxFn
	result chan error
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan writeJob, 256),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Do executes fn in its own transaction on the writer goroutine and returns
// the commit result.  If ctx expires first the caller unblocks with ctx.Err();
// a job already submitted still runs to completion and its result is dropped.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	j := writeJob{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	for j := range w.jobs {
		j.result <- w.execute(j)
	}
}

func (w *Worker) execute(j writeJob) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
