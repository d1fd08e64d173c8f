// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
)

// RecordedEvent is one message captured by a Recording.
type RecordedEvent struct {
	Time    time.Time
	Message redact.RedactableString
}

// Recording collects the events logged against a context. It stands in for
// a trace span when following a single operation through the lock table.
type Recording struct {
	mu struct {
		syncutil.Mutex
		events []RecordedEvent
	}
}

type recordingKey struct{}

// ContextWithRecording returns a context which records every Event,
// Eventf, VEventf and log entry issued against it.
func ContextWithRecording(ctx context.Context) (context.Context, *Recording) {
	rec := &Recording{}
	return context.WithValue(ctx, recordingKey{}, rec), rec
}

func recordingFromContext(ctx context.Context) *Recording {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(recordingKey{}).(*Recording)
	return rec
}

func (r *Recording) record(msg redact.RedactableString) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.events = append(r.mu.events, RecordedEvent{Time: timeutil.Now(), Message: msg})
}

// Events returns a copy of the recorded events in order.
func (r *Recording) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.mu.events...)
}

// String renders the recorded messages one per line, without redaction
// markers.
func (r *Recording) String() string {
	var sb strings.Builder
	for _, ev := range r.Events() {
		sb.WriteString(string(ev.Message.StripMarkers()))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Contains reports whether any recorded message contains substr.
func (r *Recording) Contains(substr string) bool {
	for _, ev := range r.Events() {
		if strings.Contains(string(ev.Message.StripMarkers()), substr) {
			return true
		}
	}
	return false
}
