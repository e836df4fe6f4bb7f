/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIdentity(t *testing.T) {
	base := New("base failure")
	other := New("other failure")

	wrapped := base.Wrap(New("cause"))
	require.ErrorIs(t, wrapped, base)
	require.NotErrorIs(t, wrapped, other)

	// wrapping twice keeps the identity
	require.ErrorIs(t, base.Wrap(wrapped), base)
}

func TestCauseChain(t *testing.T) {
	cause := New("cause")
	wrapped := New("outer").Wrap(cause)

	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, cause, Unwrap(wrapped))
	require.Contains(t, wrapped.Error(), "caused by")
}

func TestErrno(t *testing.T) {
	wrapped := New("driver call failed").Wrap(unix.EBUSY)

	errno, found := Errno(wrapped)
	require.True(t, found)
	require.Equal(t, unix.EBUSY, errno)

	_, found = Errno(New("no errno here"))
	require.False(t, found)
}
