// Package jobs holds the in-process job table of the daemon.
//
// Identifiers are issued from 0 in strictly increasing order and are never
// reused. A Job is inserted into the table in the same critical section that
// assigns its identifier, so nobody can observe an identifier without its
// record. Get hands out deep copies taken under the lock, which means a
// reader sees either the state before or after an Update, never a mix.
package jobs

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("no such job")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Table struct {
	mx   sync.RWMutex
	next uint64
	jobs map[uint64]*Job
}

func NewTable() *Table {
	return &Table{
		jobs: make(map[uint64]*Job),
	}
}

// Allocate creates a new Job in StatusNew and returns its identifier.
func (t *Table) Allocate(argv []string) uint64 {
	t.mx.Lock()
	defer t.mx.Unlock()

	id := t.next
	t.next++
	t.jobs[id] = &Job{
		ID:       id,
		Argv:     slices.Clone(argv),
		Status:   StatusNew,
		ExitCode: -1,
		Created:  time.Now().UTC(),
	}
	return id
}

// Get returns a copy of the current record or ErrNotFound.
func (t *Table) Get(id uint64) (Job, error) {
	t.mx.RLock()
	defer t.mx.RUnlock()

	j, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.clone(), nil
}

// Update applies mutate to the job under the write lock. When mutate
// returns an error the job is left untouched.
func (t *Table) Update(id uint64, mutate func(*Job) error) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	j, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	draft := j.clone()
	if err := mutate(&draft); err != nil {
		return err
	}
	// identity fields are set once by Allocate
	draft.ID = j.ID
	draft.Argv = j.Argv
	draft.Created = j.Created
	*j = draft
	return nil
}

// Len returns the number of jobs allocated so far.
func (t *Table) Len() int {
	t.mx.RLock()
	defer t.mx.RUnlock()
	return len(t.jobs)
}
