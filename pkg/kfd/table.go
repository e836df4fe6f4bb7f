/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package kfd

// Symbolic command names, as spelled by the kernel header.
const (
	CmdGetVersion              = "AMDKFD_IOC_GET_VERSION"
	CmdCreateQueue             = "AMDKFD_IOC_CREATE_QUEUE"
	CmdDestroyQueue            = "AMDKFD_IOC_DESTROY_QUEUE"
	CmdSetMemoryPolicy         = "AMDKFD_IOC_SET_MEMORY_POLICY"
	CmdGetClockCounters        = "AMDKFD_IOC_GET_CLOCK_COUNTERS"
	CmdGetProcessApertures     = "AMDKFD_IOC_GET_PROCESS_APERTURES"
	CmdUpdateQueue             = "AMDKFD_IOC_UPDATE_QUEUE"
	CmdCreateEvent             = "AMDKFD_IOC_CREATE_EVENT"
	CmdDestroyEvent            = "AMDKFD_IOC_DESTROY_EVENT"
	CmdSetEvent                = "AMDKFD_IOC_SET_EVENT"
	CmdResetEvent              = "AMDKFD_IOC_RESET_EVENT"
	CmdWaitEvents              = "AMDKFD_IOC_WAIT_EVENTS"
	CmdSetScratchBackingVA     = "AMDKFD_IOC_SET_SCRATCH_BACKING_VA"
	CmdGetTileConfig           = "AMDKFD_IOC_GET_TILE_CONFIG"
	CmdSetTrapHandler          = "AMDKFD_IOC_SET_TRAP_HANDLER"
	CmdGetProcessAperturesNew  = "AMDKFD_IOC_GET_PROCESS_APERTURES_NEW"
	CmdAcquireVM               = "AMDKFD_IOC_ACQUIRE_VM"
	CmdAllocMemoryOfGPU        = "AMDKFD_IOC_ALLOC_MEMORY_OF_GPU"
	CmdFreeMemoryOfGPU         = "AMDKFD_IOC_FREE_MEMORY_OF_GPU"
	CmdMapMemoryToGPU          = "AMDKFD_IOC_MAP_MEMORY_TO_GPU"
	CmdUnmapMemoryFromGPU      = "AMDKFD_IOC_UNMAP_MEMORY_FROM_GPU"
	CmdSetCUMask               = "AMDKFD_IOC_SET_CU_MASK"
	CmdGetQueueWaveState       = "AMDKFD_IOC_GET_QUEUE_WAVE_STATE"
	CmdGetDmabufInfo           = "AMDKFD_IOC_GET_DMABUF_INFO"
	CmdImportDmabuf            = "AMDKFD_IOC_IMPORT_DMABUF"
	CmdAllocQueueGWS           = "AMDKFD_IOC_ALLOC_QUEUE_GWS"
	CmdSMIEvents               = "AMDKFD_IOC_SMI_EVENTS"
	CmdSetXNACKMode            = "AMDKFD_IOC_SET_XNACK_MODE"
	CmdAvailableMemory         = "AMDKFD_IOC_AVAILABLE_MEMORY"
)

// commandMetadata must match the AMDKFD_IOC_* definitions in
// linux/kfd_ioctl.h: the command number, the transfer direction of its
// AMDKFD_IOW/IOR/IOWR wrapper, and the size of its argument structure. The
// sizes participate in the request encoding, so a stale row corrupts the
// call, not just this table.
var commandMetadata = []CommandEntry{
	{CmdGetVersion, DirRead, 0x01, 8},
	{CmdCreateQueue, DirReadWrite, 0x02, 88},
	{CmdDestroyQueue, DirReadWrite, 0x03, 8},
	{CmdSetMemoryPolicy, DirWrite, 0x04, 32},
	{CmdGetClockCounters, DirReadWrite, 0x05, 40},
	{CmdGetProcessApertures, DirRead, 0x06, 400},
	{CmdUpdateQueue, DirWrite, 0x07, 24},
	{CmdCreateEvent, DirReadWrite, 0x08, 32},
	{CmdDestroyEvent, DirWrite, 0x09, 8},
	{CmdSetEvent, DirWrite, 0x0A, 8},
	{CmdResetEvent, DirWrite, 0x0B, 8},
	{CmdWaitEvents, DirReadWrite, 0x0C, 24},
	{CmdSetScratchBackingVA, DirReadWrite, 0x11, 16},
	{CmdGetTileConfig, DirReadWrite, 0x12, 40},
	{CmdSetTrapHandler, DirWrite, 0x13, 24},
	{CmdGetProcessAperturesNew, DirReadWrite, 0x14, 16},
	{CmdAcquireVM, DirWrite, 0x15, 8},
	{CmdAllocMemoryOfGPU, DirReadWrite, 0x16, 40},
	{CmdFreeMemoryOfGPU, DirWrite, 0x17, 8},
	{CmdMapMemoryToGPU, DirReadWrite, 0x18, 24},
	{CmdUnmapMemoryFromGPU, DirReadWrite, 0x19, 24},
	{CmdSetCUMask, DirWrite, 0x1A, 16},
	{CmdGetQueueWaveState, DirReadWrite, 0x1B, 24},
	{CmdGetDmabufInfo, DirReadWrite, 0x1C, 32},
	{CmdImportDmabuf, DirReadWrite, 0x1D, 24},
	{CmdAllocQueueGWS, DirReadWrite, 0x1E, 16},
	{CmdSMIEvents, DirReadWrite, 0x1F, 8},
	{CmdSetXNACKMode, DirReadWrite, 0x21, 4},
	{CmdAvailableMemory, DirReadWrite, 0x23, 16},
}
