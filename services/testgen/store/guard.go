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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Guard is the TTL-based duplicate-suppression window for webhook intake.
//
// # Description
//
// Admit performs check-and-reserve in one transaction: the first caller
// for a key wins and writes a reservation with the configured TTL; every
// later caller inside the window loses and learns which job holds the
// reservation. Badger's serializable transactions make two concurrent
// Admit calls for the same key resolve to exactly one winner.
//
// Reservations expire by TTL only. A failed job does not release its key
// early; resubmission inside the window is rejected like any duplicate.
type Guard struct {
	db  *badger.DB
	ttl time.Duration
}

// NewGuard builds a guard over the shared database.
func NewGuard(db *badger.DB, ttl time.Duration) *Guard {
	return &Guard{db: db, ttl: ttl}
}

// Admit tries to reserve the idempotency key for jobID.
//
// # Outputs
//
//   - bool: true when this caller won the reservation.
//   - string: on a duplicate, the job ID holding the reservation.
//   - error: storage trouble only; a duplicate is not an error.
func (g *Guard) Admit(ctx context.Context, key, jobID string) (bool, string, error) {
	var holder string
	err := g.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(guardPrefix + key))
		if err == nil {
			return item.Value(func(val []byte) error {
				holder = string(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(guardPrefix+key), []byte(jobID)).WithTTL(g.ttl)
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Lost a concurrent race for the same key. Re-read the winner.
		return g.lookupHolder(key)
	}
	if err != nil {
		return false, "", fmt.Errorf("idempotency admit for %s: %w", key, err)
	}
	if holder != "" {
		return false, holder, nil
	}
	return true, jobID, nil
}

func (g *Guard) lookupHolder(key string) (bool, string, error) {
	var holder string
	err := g.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(guardPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			holder = string(val)
			return nil
		})
	})
	if err != nil {
		return false, "", fmt.Errorf("idempotency lookup for %s: %w", key, err)
	}
	return false, holder, nil
}
