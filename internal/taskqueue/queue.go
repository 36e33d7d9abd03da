// Package taskqueue implements the durable, row-ordered backlog of pending
// generation requests as a view over the key-value store. It owns no state of
// its own: every operation round-trips through the store, so tasks enqueued
// concurrently by the entry point are visible to the scheduler's next dequeue.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/kvstore"
)

// Prefix namespaces task entries within the key-value store.
const Prefix = "tasks."

// Queue is the ordered view over pending task entries.
type Queue struct {
	store kvstore.Store
}

// New creates a Queue on top of the given store.
func New(store kvstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue upserts the task for cell. Re-enqueueing an existing cell
// overwrites its prompt, which is how prompt edits propagate.
func (q *Queue) Enqueue(ctx context.Context, cell task.Key, prompt string) error {
	if err := cell.Validate(); err != nil {
		return err
	}
	t := task.Task{Cell: cell, Prompt: prompt, EnqueuedAt: time.Now().UTC()}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.store.Set(ctx, Prefix+cell.ID(), data); err != nil {
		return fmt.Errorf("store task %s: %w", cell.ID(), err)
	}
	return nil
}

// DequeueLowest removes and returns the pending task with the lowest row,
// ties broken by column. ok is false when the queue is empty. Entries that
// vanish between listing and fetch are skipped; entries that fail to decode
// are dropped, since they would block row-ordered draining forever.
func (q *Queue) DequeueLowest(ctx context.Context) (t task.Task, ok bool, err error) {
	cells, err := q.pendingCells(ctx)
	if err != nil {
		return task.Task{}, false, err
	}
	for _, cell := range cells {
		key := Prefix + cell.ID()
		data, found, err := q.store.Get(ctx, key)
		if err != nil {
			return task.Task{}, false, fmt.Errorf("fetch task %s: %w", cell.ID(), err)
		}
		if !found {
			continue
		}
		if err := json.Unmarshal(data, &t); err != nil {
			_ = q.store.Delete(ctx, key)
			continue
		}
		if err := q.store.Delete(ctx, key); err != nil {
			return task.Task{}, false, fmt.Errorf("remove task %s: %w", cell.ID(), err)
		}
		return t, true, nil
	}
	return task.Task{}, false, nil
}

// Remove deletes the task for cell. Removing an absent cell is not an error.
func (q *Queue) Remove(ctx context.Context, cell task.Key) error {
	if err := q.store.Delete(ctx, Prefix+cell.ID()); err != nil {
		return fmt.Errorf("remove task %s: %w", cell.ID(), err)
	}
	return nil
}

// PeekAll returns an ordered snapshot of all pending tasks without removing
// any of them.
func (q *Queue) PeekAll(ctx context.Context) ([]task.Task, error) {
	cells, err := q.pendingCells(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]task.Task, 0, len(cells))
	for _, cell := range cells {
		data, found, err := q.store.Get(ctx, Prefix+cell.ID())
		if err != nil {
			return nil, fmt.Errorf("fetch task %s: %w", cell.ID(), err)
		}
		if !found {
			continue
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Len reports the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	cells, err := q.pendingCells(ctx)
	if err != nil {
		return 0, err
	}
	return len(cells), nil
}

// pendingCells lists and orders the cell keys of all pending tasks. Keys
// under the prefix that do not parse as a cell are ignored.
func (q *Queue) pendingCells(ctx context.Context) ([]task.Key, error) {
	keys, err := q.store.Keys(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	cells := make([]task.Key, 0, len(keys))
	for _, k := range keys {
		cell, err := task.ParseID(strings.TrimPrefix(k, Prefix))
		if err != nil {
			continue
		}
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })
	return cells, nil
}
