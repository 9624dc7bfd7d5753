package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowIsUTCMicroseconds(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before))
	require.Zero(t, got.Nanosecond()%int(time.Microsecond))
}
