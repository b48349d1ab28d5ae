// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefix for archived events in BadgerDB.
const archiveKeyPrefix = "event:"

// ErrEventNotFound indicates the archived event does not exist.
var ErrEventNotFound = errors.New("archived event not found")

// BadgerArchiver persists rotated events to BadgerDB with a retention
// TTL, giving the bounded in-memory log a durable tail for forensics
// and compliance export.
type BadgerArchiver struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerArchiver creates a BadgerDB-backed archiver. Events expire
// after retention (0 = keep forever).
func NewBadgerArchiver(db *badger.DB, retention time.Duration) *BadgerArchiver {
	return &BadgerArchiver{db: db, ttl: retention}
}

// Archive implements Archiver.
func (a *BadgerArchiver) Archive(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	return a.db.Update(func(txn *badger.Txn) error {
		for i := range events {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := json.Marshal(&events[i])
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", events[i].ID, err)
			}

			// Timestamp-prefixed keys keep iteration in chronological order.
			key := []byte(archiveKeyPrefix + events[i].Timestamp.UTC().Format(time.RFC3339Nano) + ":" + events[i].ID)
			entry := badger.NewEntry(key, data)
			if a.ttl > 0 {
				entry = entry.WithTTL(a.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("set event %s: %w", events[i].ID, err)
			}
		}
		return nil
	})
}

// Get retrieves an archived event by its storage timestamp and ID.
func (a *BadgerArchiver) Get(ctx context.Context, ts time.Time, id string) (*Event, error) {
	var event Event

	err := a.db.View(func(txn *badger.Txn) error {
		key := []byte(archiveKeyPrefix + ts.UTC().Format(time.RFC3339Nano) + ":" + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}

	return &event, nil
}

// Scan iterates archived events in chronological order, invoking fn for
// each until fn returns false or the iteration ends.
func (a *BadgerArchiver) Scan(ctx context.Context, fn func(Event) bool) error {
	return a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(archiveKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var event Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				return fmt.Errorf("unmarshal archived event: %w", err)
			}
			if !fn(event) {
				return nil
			}
		}
		return nil
	})
}
