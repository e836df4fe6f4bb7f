/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */

// Package kfd carries the ioctl contract of the AMD KFD compute driver: the
// command table mapping symbolic command names to their request encoding, the
// argument structures those commands take, and the ABI constants shared with
// the kernel. Nothing here talks to hardware beyond issuing ioctl(2).
package kfd

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
)

var (
	ErrInvalidDescriptor = errors.New("kfd: file descriptor is negative or closed")
	ErrDriverCall        = errors.New("kfd: driver call failed")
	ErrUnknownCommand    = errors.New("kfd: unknown command")
	ErrArgumentSize      = errors.New("kfd: argument size does not match command")
)

// Direction is the ioctl transfer direction, using the kernel's _IOC_WRITE
// and _IOC_READ encoding.
type Direction uint32

const (
	DirWrite     Direction = 1
	DirRead      Direction = 2
	DirReadWrite Direction = 3
)

// ioctlMagic is the AMDKFD ioctl type byte.
const ioctlMagic = 'K'

// CommandEntry is one row of the command table. Entries are immutable and
// shared read-only across every device handle in the process.
type CommandEntry struct {
	Name string
	Dir  Direction
	Nr   uint8
	Size uint16
}

// Request composes the platform ioctl request code:
// direction<<30 | size<<16 | 'K'<<8 | nr.
func (entry CommandEntry) Request() uintptr {
	return uintptr(entry.Dir)<<30 | uintptr(entry.Size)<<16 | ioctlMagic<<8 | uintptr(entry.Nr)
}

var (
	tableOnce sync.Once
	table     map[string]CommandEntry
)

// Commands returns the process-wide command table, built exactly once from
// the header-derived metadata in table.go.
func Commands() map[string]CommandEntry {
	tableOnce.Do(func() {
		table = make(map[string]CommandEntry, len(commandMetadata))
		for _, entry := range commandMetadata {
			table[entry.Name] = entry
		}
	})

	return table
}

func Lookup(name string) (CommandEntry, error) {
	entry, found := Commands()[name]
	if !found {
		return CommandEntry{}, ErrUnknownCommand.Wrapf("%s", name)
	}

	return entry, nil
}

// Transport issues a single command against a driver descriptor. The system
// implementation calls ioctl(2); tests substitute fakes.
type Transport interface {
	Ioctl(fd int, entry CommandEntry, arg unsafe.Pointer, size uintptr) error
}

type systemTransport struct{}

func SystemTransport() Transport {
	return systemTransport{}
}

func (systemTransport) Ioctl(fd int, entry CommandEntry, arg unsafe.Pointer, size uintptr) error {
	if fd < 0 {
		return ErrInvalidDescriptor.Wrapf("%s on fd %d", entry.Name, fd)
	}

	if size != uintptr(entry.Size) {
		return ErrArgumentSize.Wrapf("%s takes %d bytes, got %d", entry.Name, entry.Size, size)
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), entry.Request(), uintptr(arg))
	if errno != 0 {
		return ErrDriverCall.Wrap(os.NewSyscallError(entry.Name, errno))
	}

	return nil
}

// Invoke looks up name and issues it through transport. arg must point at the
// command's argument structure; the driver writes results back in place for
// read and read-write commands.
func Invoke(transport Transport, fd int, name string, arg unsafe.Pointer, size uintptr) error {
	entry, err := Lookup(name)
	if err != nil {
		return err
	}

	return transport.Ioctl(fd, entry, arg, size)
}
