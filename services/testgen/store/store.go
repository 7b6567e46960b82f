// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
)

// Key prefixes. One keyspace, typed by prefix.
const (
	jobPrefix    = "job:"
	eventPrefix  = "event:"
	docPrefix    = "doc:"
	activePrefix = "active:" // presence marks a non-terminal job
	auditPrefix  = "audit:"
	guardPrefix  = "idem:"
)

var (
	// ErrNotFound is returned when a job, event, or document is missing.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an update's expectation no longer
	// matches the stored job, or two transactions raced. The caller lost;
	// reload before acting again.
	ErrConflict = errors.New("job update conflict")
)

// Store is the typed persistence layer over BadgerDB.
//
// # Description
//
// Every job mutation goes through UpdateJob, a compare-and-swap keyed on
// (status, current stage). The active-job index and the audit trail are
// maintained inside the same transaction as the job record, so readers
// never observe them out of step.
//
// # Thread Safety
//
// Safe for concurrent use. Badger serializes conflicting transactions;
// losers surface as ErrConflict.
type Store struct {
	db *badger.DB
}

// New wraps an opened database.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// AuditEntry is one line of a job's transition history.
type AuditEntry struct {
	At     time.Time               `json:"at"`
	Status datatypes.JobStatus     `json:"status"`
	Stage  datatypes.WorkflowStage `json:"stage"`
	Code   string                  `json:"code,omitempty"`
	Note   string                  `json:"note,omitempty"`
}

// CreateJob persists a fresh job together with the event that produced it.
func (s *Store) CreateJob(ctx context.Context, job datatypes.Job, ev datatypes.WebhookEvent) error {
	if err := job.CheckInvariants(); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, jobPrefix+job.JobID, job); err != nil {
			return err
		}
		if err := setJSON(txn, eventPrefix+job.JobID, ev); err != nil {
			return err
		}
		if err := txn.Set([]byte(activePrefix+job.JobID), []byte(job.JobID)); err != nil {
			return err
		}
		return appendAudit(txn, job, "created")
	})
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, jobID string) (datatypes.Job, error) {
	var job datatypes.Job
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, jobPrefix+jobID, &job)
	})
	return job, err
}

// GetEvent loads the webhook event a job was created from.
func (s *Store) GetEvent(ctx context.Context, jobID string) (datatypes.WebhookEvent, error) {
	var ev datatypes.WebhookEvent
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, eventPrefix+jobID, &ev)
	})
	return ev, err
}

// UpdateJob applies mutate under a compare-and-swap on (status, stage).
//
// The mutated job is validated against the model invariants before commit;
// a mutation that breaks them fails the whole transaction. Terminal
// transitions drop the job from the active index atomically.
func (s *Store) UpdateJob(
	ctx context.Context,
	jobID string,
	expect datatypes.JobExpectation,
	mutate func(*datatypes.Job) error,
) (datatypes.Job, error) {
	var out datatypes.Job
	err := s.update(func(txn *badger.Txn) error {
		var job datatypes.Job
		if err := getJSON(txn, jobPrefix+jobID, &job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			return fmt.Errorf("%w: job %s is already %s", ErrConflict, jobID, job.Status)
		}
		if !expect.Matches(job) {
			return fmt.Errorf("%w: job %s is %s/%s, expected %s/%s",
				ErrConflict, jobID, job.Status, job.CurrentStage, expect.Status, expect.Stage)
		}

		if err := mutate(&job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()
		if err := job.CheckInvariants(); err != nil {
			return err
		}

		if err := setJSON(txn, jobPrefix+jobID, job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			if err := txn.Delete([]byte(activePrefix + jobID)); err != nil {
				return err
			}
		}
		if err := appendAudit(txn, job, ""); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return datatypes.Job{}, err
	}
	return out, nil
}

// PutDocument stores the generated document for a job.
func (s *Store) PutDocument(ctx context.Context, jobID string, doc datatypes.TestCaseDocument) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, docPrefix+jobID, doc)
	})
}

// GetDocument loads a job's document. The boolean reports presence; a
// missing document is not an error.
func (s *Store) GetDocument(ctx context.Context, jobID string) (datatypes.TestCaseDocument, bool, error) {
	var doc datatypes.TestCaseDocument
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, docPrefix+jobID, &doc)
	})
	if errors.Is(err, ErrNotFound) {
		return datatypes.TestCaseDocument{}, false, nil
	}
	if err != nil {
		return datatypes.TestCaseDocument{}, false, err
	}
	return doc, true, nil
}

// ListActiveJobs returns every job that has not reached a terminal status.
func (s *Store) ListActiveJobs(ctx context.Context) ([]datatypes.Job, error) {
	var jobs []datatypes.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(activePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			jobID := string(it.Item().Key()[len(activePrefix):])
			var job datatypes.Job
			if err := getJSON(txn, jobPrefix+jobID, &job); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

// ListJobs returns up to limit jobs, newest first, optionally filtered by
// status. limit <= 0 means no cap.
func (s *Store) ListJobs(ctx context.Context, status datatypes.JobStatus, limit int) ([]datatypes.Job, error) {
	var jobs []datatypes.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job datatypes.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if status != "" && job.Status != status {
				continue
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortJobsNewestFirst(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Audit returns a job's transition history in write order.
func (s *Store) Audit(ctx context.Context, jobID string) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(auditPrefix + jobID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry AuditEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// update wraps db.Update, translating badger's transaction conflict into
// the package sentinel.
func (s *Store) update(fn func(*badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: transaction conflict", ErrConflict)
	}
	return err
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func appendAudit(txn *badger.Txn, job datatypes.Job, note string) error {
	entry := AuditEntry{
		At:     time.Now().UTC(),
		Status: job.Status,
		Stage:  job.CurrentStage,
		Code:   job.ErrorCode,
		Note:   note,
	}
	key := fmt.Sprintf("%s%s:%020d", auditPrefix, job.JobID, time.Now().UnixNano())
	return setJSON(txn, key, entry)
}

func sortJobsNewestFirst(jobs []datatypes.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
