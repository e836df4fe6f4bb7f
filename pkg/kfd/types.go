/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package kfd

// Argument structures for the commands the runtime issues. Field order,
// width and padding must match the struct kfd_ioctl_*_args layouts in
// linux/kfd_ioctl.h; the driver reads and writes these through the pointer
// passed to ioctl(2).

type GetVersionArgs struct {
	MajorVersion uint32 // from KFD
	MinorVersion uint32 // from KFD
}

type CreateQueueArgs struct {
	RingBaseAddress   uint64 // to KFD
	WritePointerAddress uint64 // from KFD
	ReadPointerAddress  uint64 // from KFD
	DoorbellOffset      uint64 // from KFD

	RingSize        uint32 // to KFD
	GPUID           uint32 // to KFD
	QueueType       uint32 // to KFD
	QueuePercentage uint32 // to KFD
	QueuePriority   uint32 // to KFD
	QueueID         uint32 // from KFD

	EOPBufferAddress      uint64 // to KFD
	EOPBufferSize         uint64 // to KFD
	CtxSaveRestoreAddress uint64 // to KFD
	CtxSaveRestoreSize    uint32 // to KFD
	CtlStackSize          uint32 // to KFD
}

type DestroyQueueArgs struct {
	QueueID uint32 // to KFD
	Pad     uint32
}

type UpdateQueueArgs struct {
	RingBaseAddress uint64 // to KFD
	QueueID         uint32 // to KFD
	RingSize        uint32 // to KFD
	QueuePercentage uint32 // to KFD
	QueuePriority   uint32 // to KFD
}

type CreateEventArgs struct {
	EventPageOffset  uint64 // to KFD
	EventTriggerData uint32 // from KFD
	EventType        uint32 // to KFD
	AutoReset        uint32 // to KFD
	NodeID           uint32 // to KFD
	EventID          uint32 // from KFD
	EventSlotIndex   uint32 // from KFD
}

type DestroyEventArgs struct {
	EventID uint32 // to KFD
	Pad     uint32
}

type SetEventArgs struct {
	EventID uint32 // to KFD
	Pad     uint32
}

type ResetEventArgs struct {
	EventID uint32 // to KFD
	Pad     uint32
}

type WaitEventsArgs struct {
	EventsPtr  uint64 // to KFD
	NumEvents  uint32 // to KFD
	WaitForAll uint32 // to KFD
	Timeout    uint32 // to KFD
	WaitResult uint32 // from KFD
}

type SetScratchBackingVAArgs struct {
	VAAddr uint64 // to KFD
	GPUID  uint32 // to KFD
	Pad    uint32
}

type SetTrapHandlerArgs struct {
	TbaAddr uint64 // to KFD
	TmaAddr uint64 // to KFD
	GPUID   uint32 // to KFD
	Pad     uint32
}

type AcquireVMArgs struct {
	DrmFD uint32 // to KFD
	GPUID uint32 // to KFD
}

type AllocMemoryOfGPUArgs struct {
	VAAddr     uint64 // to KFD
	Size       uint64 // to KFD
	Handle     uint64 // from KFD
	MmapOffset uint64 // to KFD (userptr), from KFD (other)
	GPUID      uint32 // to KFD
	Flags      uint32 // to KFD
}

type FreeMemoryOfGPUArgs struct {
	Handle uint64 // to KFD
}

type MapMemoryToGPUArgs struct {
	Handle            uint64 // to KFD
	DeviceIDsArrayPtr uint64 // to KFD
	NDevices          uint32 // to KFD
	NSuccess          uint32 // from KFD
}

type UnmapMemoryFromGPUArgs struct {
	Handle            uint64 // to KFD
	DeviceIDsArrayPtr uint64 // to KFD
	NDevices          uint32 // to KFD
	NSuccess          uint32 // from KFD
}

type GetClockCountersArgs struct {
	GPUClockCounter    uint64 // from KFD
	CPUClockCounter    uint64 // from KFD
	SystemClockCounter uint64 // from KFD
	SystemClockFreq    uint64 // from KFD
	GPUID              uint32 // to KFD
	Pad                uint32
}

type AvailableMemoryArgs struct {
	Available uint64 // from KFD
	GPUID     uint32 // to KFD
	Pad       uint32
}
