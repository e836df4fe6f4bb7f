/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"runtime"
	"unsafe"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
)

var (
	ErrAllocation   = errors.New("device: allocation failed")
	ErrPartialMap   = errors.New("device: driver mapped fewer devices than requested")
	ErrPartialUnmap = errors.New("device: driver unmapped fewer devices than requested")
	ErrFree         = errors.New("device: free failed")
)

// Allocation is a region addressable by both host and device. The host
// mapping and the kernel-side allocation are created together and destroyed
// together; teardown runs unmap-from-device, unmap-host, release-handle, in
// that order.
type Allocation struct {
	Addr       uintptr
	Size       uint64
	Handle     uint64
	MmapOffset uint64

	// mappedTo holds the GPU ids this allocation is currently mapped to,
	// in mapping order.
	mappedTo *orderedmap.OrderedMap[uint32, struct{}]
}

// MappedTo returns the GPU ids the allocation is mapped to, oldest first.
func (allocation *Allocation) MappedTo() []uint32 {
	ids := make([]uint32, 0, allocation.mappedTo.Len())
	for pair := allocation.mappedTo.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}

	return ids
}

// AllocMemory reserves a host range, registers it with the driver as
// device-visible memory and, for memory kinds backed by the render node,
// remaps the range over the driver-returned offset. With mapToDevice the
// allocation is also mapped into the accelerator's page tables before
// returning.
//
// prot and flags go to the reservation mmap verbatim (the reservation is
// always anonymous); allocFlags is the kfd.AllocMemFlags* composition.
func (dev *Device) AllocMemory(size uint64, prot int, flags int, allocFlags uint32, mapToDevice bool) (*Allocation, error) {
	mapper := dev.driver.config.Mapper

	addr, err := mapper.Map(0, size, prot, flags, -1, 0)
	if err != nil {
		return nil, ErrAllocation.Wrap(err)
	}

	args := kfd.AllocMemoryOfGPUArgs{
		VAAddr: uint64(addr),
		Size:   size,
		GPUID:  dev.node.GPUID,
		Flags:  allocFlags,
	}
	if err := dev.driver.ioctl(kfd.CmdAllocMemoryOfGPU, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		mapper.Unmap(addr, size)
		return nil, ErrAllocation.Wrap(err)
	}

	// VRAM and GTT are owned by the render device; the reserved range is
	// replaced with a shared mapping of the driver-returned offset so host
	// stores land in the same pages the device sees.
	if allocFlags&(kfd.AllocMemFlagsVRAM|kfd.AllocMemFlagsGTT) != 0 && args.MmapOffset != 0 {
		_, err := mapper.Map(addr, size, prot, unix.MAP_SHARED|unix.MAP_FIXED,
			dev.renderFD, int64(args.MmapOffset))
		if err != nil {
			free := kfd.FreeMemoryOfGPUArgs{Handle: args.Handle}
			dev.driver.ioctl(kfd.CmdFreeMemoryOfGPU, unsafe.Pointer(&free), unsafe.Sizeof(free))
			mapper.Unmap(addr, size)
			return nil, ErrAllocation.Wrap(err)
		}
	}

	allocation := &Allocation{
		Addr:       addr,
		Size:       size,
		Handle:     args.Handle,
		MmapOffset: args.MmapOffset,
		mappedTo:   orderedmap.New[uint32, struct{}](),
	}

	dev.mu.Lock()
	dev.allocations.Set(allocation.Handle, allocation)
	dev.mu.Unlock()

	allocatedBytes.Add(float64(size))

	if mapToDevice {
		if err := dev.MapToGPU(allocation); err != nil {
			dev.FreeMemory(allocation)
			return nil, err
		}
	}

	return allocation, nil
}

// MapToGPU maps the allocation into this device's page tables. Mapping an
// allocation twice to the same device is a no-op. A driver report of fewer
// successes than requested ids is fatal for the allocation and is not
// retried.
func (dev *Device) MapToGPU(allocation *Allocation) error {
	if _, mapped := allocation.mappedTo.Get(dev.node.GPUID); mapped {
		return nil
	}

	ids := append(allocation.MappedTo(), dev.node.GPUID)

	args := kfd.MapMemoryToGPUArgs{
		Handle:            allocation.Handle,
		DeviceIDsArrayPtr: uint64(uintptr(unsafe.Pointer(&ids[0]))),
		NDevices:          uint32(len(ids)),
	}
	err := dev.driver.ioctl(kfd.CmdMapMemoryToGPU, unsafe.Pointer(&args), unsafe.Sizeof(args))
	runtime.KeepAlive(ids)
	if err != nil {
		return err
	}

	if args.NSuccess != args.NDevices {
		return ErrPartialMap.Wrapf("handle 0x%X: %d of %d", allocation.Handle, args.NSuccess, args.NDevices)
	}

	allocation.mappedTo.Set(dev.node.GPUID, struct{}{})
	return nil
}

// FreeMemory releases the allocation: device unmap, host unmap, kernel
// handle, in that order. A partial device unmap stops the sequence before
// the host unmap; later-step failures do not skip the remaining steps.
func (dev *Device) FreeMemory(allocation *Allocation) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.freeLocked(allocation)
}

func (dev *Device) freeLocked(allocation *Allocation) error {
	if allocation.mappedTo.Len() > 0 {
		ids := allocation.MappedTo()

		args := kfd.UnmapMemoryFromGPUArgs{
			Handle:            allocation.Handle,
			DeviceIDsArrayPtr: uint64(uintptr(unsafe.Pointer(&ids[0]))),
			NDevices:          uint32(len(ids)),
		}
		err := dev.driver.ioctl(kfd.CmdUnmapMemoryFromGPU, unsafe.Pointer(&args), unsafe.Sizeof(args))
		runtime.KeepAlive(ids)
		if err != nil {
			return ErrFree.Wrap(err)
		}

		if args.NSuccess != args.NDevices {
			return ErrFree.Wrap(
				ErrPartialUnmap.Wrapf("handle 0x%X: %d of %d", allocation.Handle, args.NSuccess, args.NDevices))
		}

		for _, id := range ids {
			allocation.mappedTo.Delete(id)
		}
	}

	var result error
	if err := dev.driver.config.Mapper.Unmap(allocation.Addr, allocation.Size); err != nil {
		result = errors.Join(result, err)
	}

	free := kfd.FreeMemoryOfGPUArgs{Handle: allocation.Handle}
	if err := dev.driver.ioctl(kfd.CmdFreeMemoryOfGPU, unsafe.Pointer(&free), unsafe.Sizeof(free)); err != nil {
		result = errors.Join(result, err)
	}

	dev.allocations.Delete(allocation.Handle)
	freedBytes.Add(float64(allocation.Size))

	if result != nil {
		return ErrFree.Wrap(result)
	}

	return nil
}

// allocGART allocates device-visible system memory for control structures:
// readable and writable from both sides, never substituted, uncached.
func (dev *Device) allocGART(size uint64) (*Allocation, error) {
	return dev.AllocMemory(size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		kfd.AllocMemFlagsGTT|kfd.AllocMemFlagsWritable|kfd.AllocMemFlagsExecutable|
			kfd.AllocMemFlagsNoSubstitute|kfd.AllocMemFlagsCoherent|kfd.AllocMemFlagsUncached,
		true)
}

// allocVRAM allocates device-local memory, host-mappable.
func (dev *Device) allocVRAM(size uint64) (*Allocation, error) {
	return dev.AllocMemory(size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE,
		kfd.AllocMemFlagsVRAM|kfd.AllocMemFlagsWritable|kfd.AllocMemFlagsExecutable|
			kfd.AllocMemFlagsNoSubstitute|kfd.AllocMemFlagsPublic,
		true)
}
