/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
	"github.com/Helios-Labs/kfdhost/pkg/logger"
)

var (
	ErrQueueCreate = errors.New("device: queue creation failed")
)

// Hardware queue-descriptor layout inside the control page. The queue
// builder owns this region for the lifetime of the queue; all stores go
// through explicit offsets, never a struct overlay. The read dispatch id
// sits 8 bytes after the write dispatch id, giving the driver an aligned
// write/read pointer pair at the page base.
const (
	qdWriteDispatchID       = 0x00 // uint64
	qdReadDispatchID        = 0x08 // uint64
	qdReadDispatchIDBase    = 0x10 // uint32, self-reported offset of qdReadDispatchID
	qdComputeTmpRingSize    = 0x14 // uint32
	qdScratchDescriptor     = 0x18 // 4 x uint32
	qdScratchBackingAddress = 0x28 // uint64
	qdScratchBackingSize    = 0x30 // uint64
	qdQueueProperties       = 0x38 // uint32
)

// Hardware ABI constants. These are configuration values to verify against
// the target's documentation, not derived quantities.
const (
	// queue properties bitmask
	queuePropertyIsPtr64         = 1 << 1
	queuePropertyEnableProfiling = 1 << 2

	// scratch buffer-descriptor word 1 and word 3
	scratchSwizzleEnable   = 1 << 30
	scratchDescriptorWord3 = 0x20814FAC

	// per-wave scratch allocations are 256-byte granular
	scratchWaveGranularity = 256
)

// QueueConfig sizes the buffers backing a queue. Zero fields take defaults.
type QueueConfig struct {
	RingSize uint32

	// compute queues only
	EOPBufferSize         uint64
	CtxSaveRestoreSize    uint32
	CtlStackSize          uint32
	MaxPrivateSegmentSize uint32
}

func (config *QueueConfig) withDefaults() {
	if config.RingSize == 0 {
		config.RingSize = 0x100000
	}
	if config.EOPBufferSize == 0 {
		config.EOPBufferSize = 0x8000
	}
	if config.CtxSaveRestoreSize == 0 {
		// sized for the largest context image of the currently supported
		// targets; oversizing wastes VRAM but is harmless
		config.CtxSaveRestoreSize = 0x2C02000
	}
	if config.CtlStackSize == 0 {
		config.CtlStackSize = 0xA000
	}
	if config.MaxPrivateSegmentSize == 0 {
		config.MaxPrivateSegmentSize = 4096
	}
}

// Queue is one hardware submission queue: a ring buffer, the control page
// holding its read/write pointers, and a doorbell word inside the device's
// doorbell aperture.
type Queue struct {
	Type uint32
	ID   uint32

	dev *Device

	Ring     *Allocation
	RingSize uint32

	gart    *Allocation
	eop     *Allocation
	ctxSave *Allocation
	scratch *Allocation

	// compute capacity and scratch sizing
	MaxCuID        uint32
	MaxWaveID      uint32
	PerWaveScratch uint64
	TmpRingSize    uint32

	DoorbellOffset uint64
	doorbell       uintptr

	wptrAddr uintptr
	rptrAddr uintptr
	wptr     uint64
}

// WritePointerAddress is the host address the driver advances hardware from.
func (q *Queue) WritePointerAddress() uintptr {
	return q.wptrAddr
}

func (q *Queue) ReadPointerAddress() uintptr {
	return q.rptrAddr
}

// DoorbellAddress is the mapped address of this queue's doorbell word.
func (q *Queue) DoorbellAddress() uintptr {
	return q.doorbell
}

func roundUp(value uint64, granularity uint64) uint64 {
	return (value + granularity - 1) &^ (granularity - 1)
}

// CreateAQLQueue builds a compute queue: control page, ring, end-of-pipe and
// context save/restore buffers, scratch sized from the node's occupancy
// limits, then the driver call and the doorbell mapping. Any failure frees
// the buffers already allocated for the queue and reports ErrQueueCreate.
func (dev *Device) CreateAQLQueue(config QueueConfig) (*Queue, error) {
	config.withDefaults()

	q := &Queue{
		Type:     kfd.QueueTypeComputeAQL,
		dev:      dev,
		RingSize: config.RingSize,
	}

	err := dev.buildAQLQueue(q, config)
	if err != nil {
		dev.releaseQueueBuffers(q)
		return nil, ErrQueueCreate.Wrap(err)
	}

	dev.mu.Lock()
	dev.queues.Set(q.ID, q)
	dev.mu.Unlock()

	queuesCreated.WithLabelValues("compute-aql").Inc()
	logger.Debugf("gpu 0x%X queue %d ring 0x%X+0x%X doorbell +0x%X",
		dev.node.GPUID, q.ID, q.Ring.Addr, q.RingSize, q.DoorbellOffset)

	return q, nil
}

func (dev *Device) buildAQLQueue(q *Queue, config QueueConfig) error {
	var err error

	if q.gart, err = dev.allocGART(0x1000); err != nil {
		return err
	}
	if q.Ring, err = dev.allocGART(uint64(config.RingSize)); err != nil {
		return err
	}
	if q.eop, err = dev.allocVRAM(config.EOPBufferSize); err != nil {
		return err
	}
	if q.ctxSave, err = dev.allocVRAM(uint64(config.CtxSaveRestoreSize)); err != nil {
		return err
	}

	simdCount, err := dev.property("simd_count")
	if err != nil {
		return err
	}
	simdPerCU, err := dev.property("simd_per_cu")
	if err != nil {
		return err
	}
	maxWavesPerSIMD, err := dev.property("max_waves_per_simd")
	if err != nil {
		return err
	}
	maxSlotsScratchCU, err := dev.property("max_slots_scratch_cu")
	if err != nil {
		return err
	}
	arrayCount, err := dev.property("array_count")
	if err != nil {
		return err
	}
	arraysPerEngine, err := dev.property("simd_arrays_per_engine")
	if err != nil {
		return err
	}

	q.MaxCuID = uint32(simdCount/simdPerCU - 1)
	q.MaxWaveID = uint32(maxWavesPerSIMD*simdPerCU - 2)

	q.PerWaveScratch = roundUp(
		uint64(q.MaxWaveID+1)*uint64(config.MaxPrivateSegmentSize), scratchWaveGranularity)
	totalScratch := uint64(q.MaxCuID+1) * maxSlotsScratchCU * q.PerWaveScratch

	if q.scratch, err = dev.allocVRAM(totalScratch); err != nil {
		return err
	}

	engines := arrayCount / arraysPerEngine
	q.TmpRingSize = uint32(q.PerWaveScratch/scratchWaveGranularity)<<12 |
		uint32(totalScratch/(q.PerWaveScratch*engines))

	dev.writeQueueDescriptor(q, totalScratch)

	backing := kfd.SetScratchBackingVAArgs{
		VAAddr: uint64(q.scratch.Addr),
		GPUID:  dev.node.GPUID,
	}
	if err := dev.driver.ioctl(kfd.CmdSetScratchBackingVA, unsafe.Pointer(&backing), unsafe.Sizeof(backing)); err != nil {
		return err
	}

	q.wptrAddr = q.gart.Addr + qdWriteDispatchID
	q.rptrAddr = q.gart.Addr + qdReadDispatchID

	args := kfd.CreateQueueArgs{
		RingBaseAddress:       uint64(q.Ring.Addr),
		RingSize:              config.RingSize,
		GPUID:                 dev.node.GPUID,
		QueueType:             kfd.QueueTypeComputeAQL,
		QueuePercentage:       kfd.MaxQueuePercentage,
		QueuePriority:         kfd.MaxQueuePriority,
		EOPBufferAddress:      uint64(q.eop.Addr),
		EOPBufferSize:         q.eop.Size,
		CtxSaveRestoreAddress: uint64(q.ctxSave.Addr),
		CtxSaveRestoreSize:    config.CtxSaveRestoreSize,
		CtlStackSize:          config.CtlStackSize,
		WritePointerAddress:   uint64(q.wptrAddr),
		ReadPointerAddress:    uint64(q.rptrAddr),
	}
	if err := dev.driver.ioctl(kfd.CmdCreateQueue, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		return err
	}

	q.ID = args.QueueID
	q.DoorbellOffset = args.DoorbellOffset

	return dev.attachDoorbell(q)
}

// writeQueueDescriptor initializes the hardware descriptor overlaid on the
// control page: dispatch ids zeroed, the read-dispatch-id offset recorded,
// scratch addressing packed, properties set.
func (dev *Device) writeQueueDescriptor(q *Queue, totalScratch uint64) {
	base := q.gart.Addr

	storeUint64(base+qdWriteDispatchID, 0)
	storeUint64(base+qdReadDispatchID, 0)
	storeUint32(base+qdReadDispatchIDBase, qdReadDispatchID)
	storeUint32(base+qdComputeTmpRingSize, q.TmpRingSize)

	scratchAddr := uint64(q.scratch.Addr)
	storeUint32(base+qdScratchDescriptor+0, uint32(scratchAddr))
	storeUint32(base+qdScratchDescriptor+4, uint32(scratchAddr>>32)&0xFFFF|scratchSwizzleEnable)
	storeUint32(base+qdScratchDescriptor+8, uint32(totalScratch))
	storeUint32(base+qdScratchDescriptor+12, scratchDescriptorWord3)

	storeUint64(base+qdScratchBackingAddress, scratchAddr)
	storeUint64(base+qdScratchBackingSize, totalScratch)

	storeUint32(base+qdQueueProperties, queuePropertyIsPtr64|queuePropertyEnableProfiling)
}

// CreateSDMAQueue builds a data-movement queue: control page, ring, driver
// call, doorbell. No scratch or descriptor packing is involved.
func (dev *Device) CreateSDMAQueue(config QueueConfig) (*Queue, error) {
	config.withDefaults()

	q := &Queue{
		Type:     kfd.QueueTypeSDMA,
		dev:      dev,
		RingSize: config.RingSize,
	}

	err := dev.buildSDMAQueue(q, config)
	if err != nil {
		dev.releaseQueueBuffers(q)
		return nil, ErrQueueCreate.Wrap(err)
	}

	dev.mu.Lock()
	dev.queues.Set(q.ID, q)
	dev.mu.Unlock()

	queuesCreated.WithLabelValues("sdma").Inc()
	logger.Debugf("gpu 0x%X sdma queue %d ring 0x%X+0x%X doorbell +0x%X",
		dev.node.GPUID, q.ID, q.Ring.Addr, q.RingSize, q.DoorbellOffset)

	return q, nil
}

func (dev *Device) buildSDMAQueue(q *Queue, config QueueConfig) error {
	var err error

	if q.gart, err = dev.allocGART(0x1000); err != nil {
		return err
	}
	if q.Ring, err = dev.allocGART(uint64(config.RingSize)); err != nil {
		return err
	}

	storeUint64(q.gart.Addr+qdWriteDispatchID, 0)
	storeUint64(q.gart.Addr+qdReadDispatchID, 0)

	q.wptrAddr = q.gart.Addr + qdWriteDispatchID
	q.rptrAddr = q.gart.Addr + qdReadDispatchID

	args := kfd.CreateQueueArgs{
		RingBaseAddress:     uint64(q.Ring.Addr),
		RingSize:            config.RingSize,
		GPUID:               dev.node.GPUID,
		QueueType:           kfd.QueueTypeSDMA,
		QueuePercentage:     kfd.MaxQueuePercentage,
		QueuePriority:       kfd.MaxQueuePriority,
		WritePointerAddress: uint64(q.wptrAddr),
		ReadPointerAddress:  uint64(q.rptrAddr),
	}
	if err := dev.driver.ioctl(kfd.CmdCreateQueue, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		return err
	}

	q.ID = args.QueueID
	q.DoorbellOffset = args.DoorbellOffset

	return dev.attachDoorbell(q)
}

// attachDoorbell maps the two-page doorbell window holding the queue's
// doorbell and locates the queue's word inside it. The window is mapped over
// the driver descriptor and shared by every queue whose offset falls inside
// it.
func (dev *Device) attachDoorbell(q *Queue) error {
	base := q.DoorbellOffset &^ uint64(kfd.DoorbellOffsetMask)

	dev.mu.Lock()
	page, mapped := dev.doorbellPages[base]
	dev.mu.Unlock()

	if !mapped {
		var err error
		page, err = dev.driver.config.Mapper.Map(0, kfd.DoorbellPageSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, dev.driver.FD(), int64(base))
		if err != nil {
			return err
		}

		dev.mu.Lock()
		dev.doorbellPages[base] = page
		dev.mu.Unlock()
	}

	q.doorbell = page + uintptr(q.DoorbellOffset&kfd.DoorbellOffsetMask)
	return nil
}

// Submit copies words into the ring and rings the doorbell. Hardware
// observes the three stores strictly in order: ring contents first, then the
// advanced write pointer, then the doorbell value carrying the new write
// index.
func (q *Queue) Submit(words []uint32) error {
	if uint32(len(words)*4) > q.RingSize {
		return errors.Newf("device: packet of %d words exceeds ring size", len(words))
	}

	ringWords := uint64(q.RingSize / 4)
	for i, word := range words {
		offset := ((q.wptr + uint64(i)) % ringWords) * 4
		storeUint32(q.Ring.Addr+uintptr(offset), word)
	}

	q.wptr += uint64(len(words))
	atomic.StoreUint64((*uint64)(unsafe.Pointer(q.wptrAddr)), q.wptr)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(q.doorbell)), q.wptr)

	return nil
}

// destroyQueueLocked tears the queue down: driver destroy first, then its
// backing buffers.
func (dev *Device) destroyQueueLocked(q *Queue) error {
	args := kfd.DestroyQueueArgs{QueueID: q.ID}
	result := dev.driver.ioctl(kfd.CmdDestroyQueue, unsafe.Pointer(&args), unsafe.Sizeof(args))

	for _, allocation := range q.buffers() {
		result = errors.Join(result, dev.freeLocked(allocation))
	}

	dev.queues.Delete(q.ID)
	return result
}

// DestroyQueue removes the queue from the device and frees its buffers.
func (dev *Device) DestroyQueue(q *Queue) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.destroyQueueLocked(q)
}

func (q *Queue) buffers() []*Allocation {
	var buffers []*Allocation
	for _, allocation := range []*Allocation{q.scratch, q.ctxSave, q.eop, q.Ring, q.gart} {
		if allocation != nil {
			buffers = append(buffers, allocation)
		}
	}

	return buffers
}

// releaseQueueBuffers unwinds a partially built queue.
func (dev *Device) releaseQueueBuffers(q *Queue) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	for _, allocation := range q.buffers() {
		if err := dev.freeLocked(allocation); err != nil {
			logger.Warningf("releasing queue buffers: %v", err)
		}
	}
}

func storeUint32(addr uintptr, value uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = value
}

func storeUint64(addr uintptr, value uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = value
}
