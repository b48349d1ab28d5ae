// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package eventlog

import (
	"sync"

	"github.com/palisade-sec/palisade/internal/metrics"
)

// Recorder is the asynchronous append path used from the request hot
// path. Events are buffered on a channel and written by a background
// goroutine, so a slow consumer or archive never blocks a request.
// When the buffer is full the event is dropped and counted; the request
// path must not back-pressure on logging.
type Recorder struct {
	log      *Log
	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.RWMutex
	observers []func(*Event)
}

// DefaultRecorderBuffer is the default async buffer size.
const DefaultRecorderBuffer = 256

// NewRecorder starts a recorder writing to the given log.
func NewRecorder(log *Log, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}

	r := &Recorder{
		log:     log,
		eventCh: make(chan *Event, buffer),
		stopCh:  make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues an event for appending. Never blocks; returns false if
// the buffer was full and the event was dropped.
func (r *Recorder) Record(e *Event) bool {
	if e == nil {
		return false
	}

	select {
	case r.eventCh <- e.clone():
		return true
	default:
		metrics.EventsDropped.Inc()
		return false
	}
}

// Observe registers fn to run after each event is appended. Observers
// run on the recorder's background goroutine, in registration order,
// and must not mutate the event or block.
func (r *Recorder) Observe(fn func(*Event)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// append writes the event and notifies observers with the stored copy.
func (r *Recorder) append(e *Event) {
	stored := r.log.Append(e)
	if stored == nil {
		return
	}

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(stored)
	}
}

// run drains the buffer into the log until Close.
func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case e := <-r.eventCh:
					r.append(e)
				default:
					return
				}
			}
		case e := <-r.eventCh:
			r.append(e)
		}
	}
}

// Close stops the recorder after draining buffered events.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}
