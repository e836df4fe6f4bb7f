/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package kfd

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
)

func TestRequestEncoding(t *testing.T) {
	expected := map[string]uintptr{
		CmdGetVersion:          0x80084B01,
		CmdCreateQueue:         0xC0584B02,
		CmdDestroyQueue:        0xC0084B03,
		CmdCreateEvent:         0xC0204B08,
		CmdSetScratchBackingVA: 0xC0104B11,
		CmdAcquireVM:           0x40084B15,
		CmdAllocMemoryOfGPU:    0xC0284B16,
		CmdFreeMemoryOfGPU:     0x40084B17,
		CmdMapMemoryToGPU:      0xC0184B18,
		CmdUnmapMemoryFromGPU:  0xC0184B19,
		CmdAvailableMemory:     0xC0104B23,
	}

	for name, request := range expected {
		entry, err := Lookup(name)
		require.NoError(t, err, name)
		require.Equal(t, request, entry.Request(), name)
	}
}

func TestArgumentSizesMatchTable(t *testing.T) {
	sizes := map[string]uintptr{
		CmdGetVersion:          unsafe.Sizeof(GetVersionArgs{}),
		CmdCreateQueue:         unsafe.Sizeof(CreateQueueArgs{}),
		CmdDestroyQueue:        unsafe.Sizeof(DestroyQueueArgs{}),
		CmdUpdateQueue:         unsafe.Sizeof(UpdateQueueArgs{}),
		CmdCreateEvent:         unsafe.Sizeof(CreateEventArgs{}),
		CmdDestroyEvent:        unsafe.Sizeof(DestroyEventArgs{}),
		CmdSetEvent:            unsafe.Sizeof(SetEventArgs{}),
		CmdResetEvent:          unsafe.Sizeof(ResetEventArgs{}),
		CmdWaitEvents:          unsafe.Sizeof(WaitEventsArgs{}),
		CmdSetScratchBackingVA: unsafe.Sizeof(SetScratchBackingVAArgs{}),
		CmdSetTrapHandler:      unsafe.Sizeof(SetTrapHandlerArgs{}),
		CmdAcquireVM:           unsafe.Sizeof(AcquireVMArgs{}),
		CmdAllocMemoryOfGPU:    unsafe.Sizeof(AllocMemoryOfGPUArgs{}),
		CmdFreeMemoryOfGPU:     unsafe.Sizeof(FreeMemoryOfGPUArgs{}),
		CmdMapMemoryToGPU:      unsafe.Sizeof(MapMemoryToGPUArgs{}),
		CmdUnmapMemoryFromGPU:  unsafe.Sizeof(UnmapMemoryFromGPUArgs{}),
		CmdGetClockCounters:    unsafe.Sizeof(GetClockCountersArgs{}),
		CmdAvailableMemory:     unsafe.Sizeof(AvailableMemoryArgs{}),
	}

	for name, size := range sizes {
		entry, err := Lookup(name)
		require.NoError(t, err, name)
		require.Equal(t, uintptr(entry.Size), size, name)
	}
}

func TestCommandNumbersAreUnique(t *testing.T) {
	seen := map[uint8]string{}
	for _, entry := range commandMetadata {
		previous, duplicate := seen[entry.Nr]
		require.False(t, duplicate, "0x%02X claimed by %s and %s", entry.Nr, previous, entry.Name)
		seen[entry.Nr] = entry.Name
	}
}

func TestLookupUnknownCommand(t *testing.T) {
	_, err := Lookup("AMDKFD_IOC_BOGUS")
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSystemTransportRejectsClosedDescriptor(t *testing.T) {
	var args GetVersionArgs
	err := Invoke(SystemTransport(), -1, CmdGetVersion, unsafe.Pointer(&args), unsafe.Sizeof(args))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestSystemTransportRejectsSizeMismatch(t *testing.T) {
	var args GetVersionArgs
	err := Invoke(SystemTransport(), 0, CmdCreateQueue, unsafe.Pointer(&args), unsafe.Sizeof(args))
	require.ErrorIs(t, err, ErrArgumentSize)
}

func TestErrnoExtraction(t *testing.T) {
	wrapped := ErrDriverCall.Wrap(unix.EINVAL)
	errno, found := errors.Errno(wrapped)
	require.True(t, found)
	require.Equal(t, unix.EINVAL, errno)

	_, found = errors.Errno(ErrDriverCall)
	require.False(t, found)
}
