// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerZeroValueNeverFires(t *testing.T) {
	var timer Timer
	defer timer.Stop()
	select {
	case <-timer.C:
		t.Fatal("unarmed timer fired")
	case <-time.After(10 * time.Millisecond):
	}
	timer.ResetDeadline(time.Time{})
	require.Nil(t, timer.C)
}

func TestTimerResetDeadline(t *testing.T) {
	var timer Timer
	defer timer.Stop()
	start := Now()
	timer.ResetDeadline(start.Add(20 * time.Millisecond))
	<-timer.C
	timer.Read = true
	require.GreaterOrEqual(t, Since(start), 20*time.Millisecond)

	// Re-arming after a read must not observe a stale tick.
	timer.Reset(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stale tick after reset")
	default:
	}
	require.False(t, timer.Read)
}

func TestTimerStop(t *testing.T) {
	var timer Timer
	timer.Reset(time.Hour)
	require.True(t, timer.Stop())
	require.Nil(t, timer.C)
	require.False(t, timer.Stop())
}
