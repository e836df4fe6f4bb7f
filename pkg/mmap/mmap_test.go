/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package mmap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSystemMapperAnonymous(t *testing.T) {
	mapper := System()

	const size = 0x1000
	addr, err := mapper.Map(0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, -1, 0)
	require.NoError(t, err)
	require.NotZero(t, addr)

	// the mapping is writable and readable through the returned address
	*(*uint64)(unsafe.Pointer(addr)) = 0xDEADBEEFCAFEF00D
	require.Equal(t, uint64(0xDEADBEEFCAFEF00D), *(*uint64)(unsafe.Pointer(addr)))

	require.NoError(t, mapper.Unmap(addr, size))
}

func TestSystemMapperFixedRemap(t *testing.T) {
	mapper := System()

	const size = 0x2000
	addr, err := mapper.Map(0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, -1, 0)
	require.NoError(t, err)

	// replacing a reserved range in place keeps the address
	remapped, err := mapper.Map(addr, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED, -1, 0)
	require.NoError(t, err)
	require.Equal(t, addr, remapped)

	require.NoError(t, mapper.Unmap(addr, size))
}

func TestSystemMapperRejectsUnalignedUnmap(t *testing.T) {
	err := System().Unmap(0x1001, 0x1000)
	require.ErrorIs(t, err, ErrMapping)
}
