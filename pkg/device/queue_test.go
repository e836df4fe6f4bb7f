/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
)

// testQueueConfig keeps the buffer sizes small; the scratch size is still
// computed from the node properties.
func testQueueConfig() QueueConfig {
	return QueueConfig{
		RingSize:           0x10000,
		EOPBufferSize:      0x8000,
		CtxSaveRestoreSize: 0x40000,
		CtlStackSize:       0xA000,
	}
}

func loadUint32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func loadUint64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

func TestCreateAQLQueue(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	q, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)
	require.Equal(t, uint32(1), q.ID)

	require.Len(t, transport.queues, 1)
	args := transport.queues[0]
	require.Equal(t, uint64(q.Ring.Addr), args.RingBaseAddress)
	require.Equal(t, uint32(0x10000), args.RingSize)
	require.Equal(t, uint32(kfd.QueueTypeComputeAQL), args.QueueType)
	require.Equal(t, uint32(kfd.MaxQueuePercentage), args.QueuePercentage)
	require.Equal(t, uint32(kfd.MaxQueuePriority), args.QueuePriority)
	require.Equal(t, uint64(q.eop.Addr), args.EOPBufferAddress)
	require.Equal(t, uint64(q.ctxSave.Addr), args.CtxSaveRestoreAddress)

	// the write pointer sits at the control page base, the read pointer
	// 8 bytes after it
	require.Equal(t, uint64(q.gart.Addr), args.WritePointerAddress)
	require.Equal(t, uint64(q.gart.Addr)+8, args.ReadPointerAddress)
}

func TestAQLQueueScratchSizing(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	q, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)

	// simd_count=32, simd_per_cu=4, max_waves_per_simd=4,
	// max_slots_scratch_cu=32, array_count=4, simd_arrays_per_engine=2
	require.Equal(t, uint32(7), q.MaxCuID)
	require.Equal(t, uint32(14), q.MaxWaveID)
	require.Equal(t, uint64(15*4096), q.PerWaveScratch)
	require.Equal(t, uint64(8*32*15*4096), q.scratch.Size)
	require.Equal(t, uint32(240<<12|128), q.TmpRingSize)

	require.Len(t, transport.scratchVAs, 1)
	require.Equal(t, uint64(q.scratch.Addr), transport.scratchVAs[0].VAAddr)
	require.Equal(t, uint32(0xF00D), transport.scratchVAs[0].GPUID)
}

func TestAQLQueueDescriptor(t *testing.T) {
	dev, _, _ := openTestDevice(t)

	q, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)

	base := q.gart.Addr
	scratchAddr := uint64(q.scratch.Addr)
	totalScratch := q.scratch.Size

	require.Equal(t, uint64(0), loadUint64(base+qdWriteDispatchID))
	require.Equal(t, uint64(0), loadUint64(base+qdReadDispatchID))
	require.Equal(t, uint32(qdReadDispatchID), loadUint32(base+qdReadDispatchIDBase))
	require.Equal(t, q.TmpRingSize, loadUint32(base+qdComputeTmpRingSize))

	require.Equal(t, uint32(scratchAddr), loadUint32(base+qdScratchDescriptor))
	require.Equal(t, uint32(scratchAddr>>32)&0xFFFF|uint32(scratchSwizzleEnable),
		loadUint32(base+qdScratchDescriptor+4))
	require.Equal(t, uint32(totalScratch), loadUint32(base+qdScratchDescriptor+8))
	require.Equal(t, uint32(scratchDescriptorWord3), loadUint32(base+qdScratchDescriptor+12))

	require.Equal(t, scratchAddr, loadUint64(base+qdScratchBackingAddress))
	require.Equal(t, totalScratch, loadUint64(base+qdScratchBackingSize))

	require.Equal(t, uint32(queuePropertyIsPtr64|queuePropertyEnableProfiling),
		loadUint32(base+qdQueueProperties))
}

func TestQueueDoorbellMapping(t *testing.T) {
	dev, _, mapper := openTestDevice(t)

	q, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)
	require.Equal(t, uint64(0x3008), q.DoorbellOffset)

	// the doorbell window is page-aligned and mapped over the driver
	// descriptor, not the render node
	var doorbells []mapCall
	for _, call := range mapper.maps {
		if !call.fixed && call.fd == dev.driver.FD() {
			doorbells = append(doorbells, call)
		}
	}
	require.Len(t, doorbells, 1)
	require.Equal(t, int64(0x2000), doorbells[0].offset)
	require.Equal(t, uint64(kfd.DoorbellPageSize), doorbells[0].size)

	page := dev.doorbellPages[0x2000]
	require.Equal(t, page+0x1008, q.DoorbellAddress())
}

func TestDoorbellPageShared(t *testing.T) {
	dev, transport, mapper := openTestDevice(t)

	_, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)

	transport.doorbellOffset = 0x3010
	_, err = dev.CreateSDMAQueue(testQueueConfig())
	require.NoError(t, err)

	// both offsets fall inside the same window; it is mapped once
	count := 0
	for _, call := range mapper.maps {
		if !call.fixed && call.fd == dev.driver.FD() {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Len(t, dev.doorbellPages, 1)
}

func TestCreateSDMAQueue(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	q, err := dev.CreateSDMAQueue(testQueueConfig())
	require.NoError(t, err)
	require.Equal(t, uint32(kfd.QueueTypeSDMA), transport.queues[0].QueueType)
	require.Zero(t, transport.queues[0].EOPBufferAddress)
	require.Zero(t, transport.queues[0].CtxSaveRestoreAddress)
	require.Nil(t, q.scratch)

	// no scratch backing for data-movement queues
	require.Empty(t, transport.scratchVAs)
}

func TestSubmitOrdersStores(t *testing.T) {
	dev, _, _ := openTestDevice(t)

	q, err := dev.CreateSDMAQueue(testQueueConfig())
	require.NoError(t, err)

	require.NoError(t, q.Submit([]uint32{0x11, 0x22, 0x33}))

	require.Equal(t, uint32(0x11), loadUint32(q.Ring.Addr))
	require.Equal(t, uint32(0x22), loadUint32(q.Ring.Addr+4))
	require.Equal(t, uint32(0x33), loadUint32(q.Ring.Addr+8))
	require.Equal(t, uint64(3), loadUint64(q.WritePointerAddress()))
	require.Equal(t, uint64(3), loadUint64(q.DoorbellAddress()))

	// a second submission continues from the advanced write index
	require.NoError(t, q.Submit([]uint32{0x44}))
	require.Equal(t, uint32(0x44), loadUint32(q.Ring.Addr+12))
	require.Equal(t, uint64(4), loadUint64(q.DoorbellAddress()))
}

func TestSubmitRejectsOversizedPacket(t *testing.T) {
	dev, _, _ := openTestDevice(t)

	q, err := dev.CreateSDMAQueue(testQueueConfig())
	require.NoError(t, err)

	require.Error(t, q.Submit(make([]uint32, 0x10000/4+1)))
}

func TestQueueCreateFailureCleansUp(t *testing.T) {
	dev, transport, mapper := openTestDevice(t)
	transport.fail[kfd.CmdCreateQueue] = errors.New("no hqd slots")

	_, err := dev.CreateAQLQueue(testQueueConfig())
	require.ErrorIs(t, err, ErrQueueCreate)

	// gart, ring, eop, ctx save and scratch were all released
	require.Equal(t, 0, dev.allocations.Len())
	require.Len(t, transport.frees, 5)
	require.Empty(t, mapper.buffers)
	require.Equal(t, 0, dev.queues.Len())
}

func TestDestroyQueue(t *testing.T) {
	dev, transport, _ := openTestDevice(t)

	q, err := dev.CreateAQLQueue(testQueueConfig())
	require.NoError(t, err)

	require.NoError(t, dev.DestroyQueue(q))
	require.Equal(t, []uint32{q.ID}, transport.destroyedQs)
	require.Equal(t, 0, dev.queues.Len())
	require.Equal(t, 0, dev.allocations.Len())
}

func TestPM4IndirectBuffer(t *testing.T) {
	packet := PM4IndirectBuffer(0xABCD12345678, 64, 0x1122334455667788)

	require.Equal(t, []uint32{
		0xC0043F00,
		0x12345678,
		0x0000ABCD,
		64 | 1<<23,
		0x55667788,
		0x11223344,
	}, packet)
}

func TestRoundUp(t *testing.T) {
	require.Equal(t, uint64(262144), roundUp(64*4096, 256))
	require.Equal(t, uint64(256), roundUp(1, 256))
	require.Equal(t, uint64(0), roundUp(0, 256))
	require.Equal(t, uint64(512), roundUp(257, 256))
}
