/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package kfd

// Queue types accepted by AMDKFD_IOC_CREATE_QUEUE.
const (
	QueueTypeCompute    = 0
	QueueTypeSDMA       = 1
	QueueTypeComputeAQL = 2
	QueueTypeSDMAXGMI   = 3
)

const (
	MaxQueuePercentage = 100
	MaxQueuePriority   = 15
)

// Allocation flags for AMDKFD_IOC_ALLOC_MEMORY_OF_GPU. The low bits select
// the memory kind, the high bits are attributes, OR'd together.
const (
	AllocMemFlagsVRAM      = 1 << 0
	AllocMemFlagsGTT       = 1 << 1
	AllocMemFlagsUserptr   = 1 << 2
	AllocMemFlagsDoorbell  = 1 << 3
	AllocMemFlagsMMIORemap = 1 << 4

	AllocMemFlagsWritable     = 1 << 31
	AllocMemFlagsExecutable   = 1 << 30
	AllocMemFlagsPublic       = 1 << 29
	AllocMemFlagsNoSubstitute = 1 << 28
	AllocMemFlagsAQLQueueMem  = 1 << 27
	AllocMemFlagsCoherent     = 1 << 26
	AllocMemFlagsUncached     = 1 << 25
)

// Event types for AMDKFD_IOC_CREATE_EVENT.
const (
	EventTypeSignal            = 0
	EventTypeNodeChange        = 1
	EventTypeDeviceStateChange = 2
	EventTypeHWException       = 3
)

// Doorbells are handed out as offsets into an mmap cookie space on the
// driver descriptor; a queue's doorbell lives inside a two-page window.
const (
	DoorbellPageSize   = 0x2000
	DoorbellOffsetMask = DoorbellPageSize - 1
)
