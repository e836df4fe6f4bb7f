/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */

// Package device is the user-space runtime for KFD accelerator nodes: it
// owns the driver session, per-node device handles, GPU memory allocations
// and the hardware submission queues built on top of them.
package device

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
	"github.com/Helios-Labs/kfdhost/pkg/mmap"
	"github.com/Helios-Labs/kfdhost/pkg/topology"
	"github.com/Helios-Labs/kfdhost/pkg/utilities"
)

var (
	ErrDriverClosed = errors.New("device: driver session is closed")
)

// Config selects the paths and low-level transports of a driver session.
// The zero value means the real driver on the running system; tests swap in
// fake transports and a scratch topology tree.
type Config struct {
	// DevicePath is the KFD control node, normally /dev/kfd.
	DevicePath string

	// TopologyRoot is the sysfs tree of accelerator nodes.
	TopologyRoot string

	// RenderRoot is the directory holding DRM render nodes, normally
	// /dev/dri.
	RenderRoot string

	Transport kfd.Transport
	Mapper    mmap.Mapper

	// OpenFile opens a device node read-write and returns its descriptor.
	OpenFile func(path string) (int, error)

	// CloseFile closes a descriptor returned by OpenFile.
	CloseFile func(fd int) error
}

func (config *Config) withDefaults() {
	if config.DevicePath == "" {
		config.DevicePath = "/dev/kfd"
	}
	if config.TopologyRoot == "" {
		config.TopologyRoot = topology.DefaultRoot
	}
	if config.RenderRoot == "" {
		config.RenderRoot = "/dev/dri"
	}
	if config.Transport == nil {
		config.Transport = kfd.SystemTransport()
	}
	if config.Mapper == nil {
		config.Mapper = mmap.System()
	}
	if config.OpenFile == nil {
		config.OpenFile = func(path string) (int, error) {
			return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		}
	}
	if config.CloseFile == nil {
		config.CloseFile = unix.Close
	}
}

// Driver is the process-wide session against the KFD control node. The
// descriptor and the enumerated node list are opened and read once, then
// shared read-only by every device handle; Open is idempotent and guarded so
// handles may be constructed from multiple goroutines.
type Driver struct {
	config Config

	mu    sync.Mutex
	fd    int
	nodes []topology.Node

	handles *utilities.ConcurrentMap[uint32, *Device]
}

var (
	defaultDriver     *Driver
	defaultDriverOnce sync.Once
)

// Default returns the shared driver session for the process.
func Default() *Driver {
	defaultDriverOnce.Do(func() {
		defaultDriver = NewDriver(Config{})
	})

	return defaultDriver
}

// NewDriver builds a session without touching the driver; the descriptor is
// opened on first use.
func NewDriver(config Config) *Driver {
	config.withDefaults()

	return &Driver{
		config:  config,
		fd:      -1,
		handles: utilities.NewConcurrentMap[uint32, *Device](),
	}
}

// Open opens the driver node and enumerates the usable accelerator nodes.
// Calling it again is a no-op.
func (drv *Driver) Open() error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	return drv.openLocked()
}

func (drv *Driver) openLocked() error {
	if drv.fd >= 0 {
		return nil
	}

	fd, err := drv.config.OpenFile(drv.config.DevicePath)
	if err != nil {
		return ErrDeviceInit.Wrap(err)
	}

	nodes, err := topology.Discover(drv.config.TopologyRoot)
	if err != nil {
		drv.config.CloseFile(fd)
		return ErrDeviceInit.Wrap(err)
	}

	drv.fd = fd
	drv.nodes = nodes
	return nil
}

// FD exposes the driver descriptor for doorbell mappings; -1 before Open.
func (drv *Driver) FD() int {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	return drv.fd
}

// Nodes returns the usable accelerator nodes in index order.
func (drv *Driver) Nodes() ([]topology.Node, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	if err := drv.openLocked(); err != nil {
		return nil, err
	}

	return drv.nodes, nil
}

// Version reports the KFD interface version.
func (drv *Driver) Version() (uint32, uint32, error) {
	if err := drv.Open(); err != nil {
		return 0, 0, err
	}

	var args kfd.GetVersionArgs
	if err := drv.ioctl(kfd.CmdGetVersion, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		return 0, 0, err
	}

	return args.MajorVersion, args.MinorVersion, nil
}

// ioctl issues a command on the driver descriptor, keeping the call metrics.
func (drv *Driver) ioctl(name string, arg unsafe.Pointer, size uintptr) error {
	drv.mu.Lock()
	fd := drv.fd
	drv.mu.Unlock()

	err := kfd.Invoke(drv.config.Transport, fd, name, arg, size)
	driverCalls.WithLabelValues(name, outcome(err)).Inc()
	return err
}

// Close tears down every open handle, then the driver descriptor. Closing an
// already-closed session is a no-op.
func (drv *Driver) Close() error {
	var result error

	var open []*Device
	drv.handles.Foreach(func(_ uint32, dev *Device) bool {
		open = append(open, dev)
		return true
	})
	for _, dev := range open {
		result = errors.Join(result, dev.Close())
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.fd >= 0 {
		result = errors.Join(result, drv.config.CloseFile(drv.fd))
		drv.fd = -1
	}

	return result
}
