/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Helios-Labs/kfdhost/pkg/kfd"
)

func TestCreateEvent(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	backing, err := dev.allocGART(0x1000)
	require.NoError(t, err)

	event, err := dev.CreateEvent(true, backing)
	require.NoError(t, err)
	require.Equal(t, uint32(1), event.ID)
	require.Equal(t, uint32(0), event.SlotIndex)

	require.Len(t, transport.events, 1)
	require.Equal(t, uint32(kfd.EventTypeSignal), transport.events[0].EventType)
	require.Equal(t, uint32(1), transport.events[0].AutoReset)
	require.Equal(t, uint32(0xF00D), transport.events[0].NodeID)
	require.Equal(t, backing.Handle, transport.events[0].EventPageOffset)

	require.Equal(t, 1, dev.events.Len())
}

func TestCreateEventWithoutBacking(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	_, err := dev.CreateEvent(false, nil)
	require.NoError(t, err)
	require.Zero(t, transport.events[0].EventPageOffset)
	require.Zero(t, transport.events[0].AutoReset)
}

func TestCreateEventExhausted(t *testing.T) {
	dev, transport, _ := openTestDevice(t)
	transport.zeroEventID = true

	_, err := dev.CreateEvent(false, nil)
	require.ErrorIs(t, err, ErrEventCreate)
	require.Equal(t, 0, dev.events.Len())
}

func TestEventSetResetDestroy(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	event, err := dev.CreateEvent(false, nil)
	require.NoError(t, err)

	require.NoError(t, event.Set())
	require.Equal(t, 1, transport.countOf(kfd.CmdSetEvent))

	require.NoError(t, event.Reset())
	require.Equal(t, 1, transport.countOf(kfd.CmdResetEvent))

	require.NoError(t, dev.DestroyEvent(event))
	require.Equal(t, []uint32{event.ID}, transport.destroyedEvs)
	require.Equal(t, 0, dev.events.Len())
}
