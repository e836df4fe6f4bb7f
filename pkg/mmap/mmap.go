/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */

// Package mmap is the only place in the runtime that performs virtual-address
// arithmetic against the kernel's memory-mapping interface. Everything above
// it deals in addresses handed out here.
//
// The raw mmap syscall is used instead of the x/sys slice helpers because the
// driver contract requires MAP_FIXED remaps of driver-chosen offsets over an
// already reserved range, which cannot be expressed through a []byte-tracking
// wrapper.
package mmap

import (
	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
)

var (
	ErrMapping = errors.New("mmap: mapping request failed")
)

// Mapper maps and unmaps memory. The system implementation is stateless and
// reentrant; fakes stand in for it under test.
type Mapper interface {
	// Map establishes a mapping of size bytes. addr is a placement hint and
	// is required when flags carries MAP_FIXED; pass 0 to let the kernel
	// choose. fd is -1 for anonymous mappings.
	Map(addr uintptr, size uint64, prot int, flags int, fd int, offset int64) (uintptr, error)

	// Unmap removes size bytes of mappings starting at addr.
	Unmap(addr uintptr, size uint64) error
}

type systemMapper struct{}

// System returns the process-wide Mapper backed by mmap(2)/munmap(2).
func System() Mapper {
	return systemMapper{}
}

func (systemMapper) Map(addr uintptr, size uint64, prot int, flags int, fd int, offset int64) (uintptr, error) {
	mapped, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, uintptr(size), uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, ErrMapping.Wrap(errno)
	}

	return mapped, nil
}

func (systemMapper) Unmap(addr uintptr, size uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0)
	if errno != 0 {
		return ErrMapping.Wrap(errno)
	}

	return nil
}
