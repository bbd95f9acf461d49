package id

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithActionID(context.Background(), "act-1")
	ctx = WithLogID(ctx, "log-1")

	require.Equal(t, "act-1", ActionIDFromContext(ctx))
	require.Equal(t, "log-1", LogIDFromContext(ctx))
}

func TestEmptyIDsLeaveContextUntouched(t *testing.T) {
	base := context.Background()
	require.Equal(t, base, WithActionID(base, ""))
	require.Equal(t, "", ActionIDFromContext(base))
	require.Equal(t, "", LogIDFromContext(base))
}

func TestNewActionIDIsPrefixedAndUnique(t *testing.T) {
	a := NewActionID()
	b := NewActionID()
	require.True(t, strings.HasPrefix(a, "act-"))
	require.NotEqual(t, a, b)
}

func TestLogIDCarriesUUIDv7(t *testing.T) {
	logID := NewLogID()
	require.True(t, strings.HasPrefix(logID, "log-"))
	parsed, err := uuid.Parse(strings.TrimPrefix(logID, "log-"))
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}
