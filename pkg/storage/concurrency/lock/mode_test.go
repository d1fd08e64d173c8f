// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package lock

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeConflicts(t *testing.T) {
	modes := []Mode{Shared, IntentExclusive, Exclusive}
	// expected[i][j] is whether modes[i] conflicts with modes[j].
	expected := [3][3]bool{
		{false, false, true},
		{false, false, true},
		{true, true, true},
	}
	for i, a := range modes {
		for j, b := range modes {
			t.Run(fmt.Sprintf("%s/%s", a, b), func(t *testing.T) {
				require.Equal(t, expected[i][j], a.Conflicts(b))
				// The relation is symmetric.
				require.Equal(t, a.Conflicts(b), b.Conflicts(a))
			})
		}
		require.False(t, a.Conflicts(None))
	}
}

func TestModeStrength(t *testing.T) {
	require.True(t, Exclusive.Stronger(IntentExclusive))
	require.True(t, IntentExclusive.Stronger(Shared))
	require.True(t, Shared.Stronger(None))
	require.False(t, Shared.Stronger(Shared))
	require.Equal(t, Exclusive, Max(Shared, Exclusive))
	require.Equal(t, IntentExclusive, Max(IntentExclusive, Shared))
	require.Equal(t, Exclusive, MaxMode)
}

func TestModeIntent(t *testing.T) {
	require.Equal(t, Shared, Shared.Intent())
	require.Equal(t, IntentExclusive, IntentExclusive.Intent())
	require.Equal(t, IntentExclusive, Exclusive.Intent())
	require.Equal(t, None, None.Intent())
}

func TestParseMode(t *testing.T) {
	for s, m := range map[string]Mode{
		"S": Shared, "shared": Shared,
		"IX": IntentExclusive, "IntentExclusive": IntentExclusive,
		"x": Exclusive, "EXCLUSIVE": Exclusive,
	} {
		got, err := ParseMode(s)
		require.NoError(t, err, s)
		require.Equal(t, m, got, s)
	}
	_, err := ParseMode("U")
	require.EqualError(t, err, `unknown lock mode "U"`)
	require.Equal(t, "IX", IntentExclusive.String())
}
