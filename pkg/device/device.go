/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"fmt"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
	"github.com/Helios-Labs/kfdhost/pkg/logger"
	"github.com/Helios-Labs/kfdhost/pkg/topology"
)

var (
	ErrDeviceInit   = errors.New("device: initialization failed")
	ErrNoSuchDevice = errors.New("device: no such accelerator node")
)

// Device is the live session against one accelerator node. It owns the
// render-node descriptor, the allocations and queues it created, and must be
// closed before its driver session. A handle is not safe for concurrent use
// from multiple goroutines without external serialization; the driver session
// it came from is.
type Device struct {
	SessionID uuid.UUID

	driver *Driver
	node   topology.Node

	mu       sync.Mutex
	renderFD int
	closed   bool

	allocations *orderedmap.OrderedMap[uint64, *Allocation]
	queues      *orderedmap.OrderedMap[uint32, *Queue]
	events      *orderedmap.OrderedMap[uint32, *Event]

	doorbellPages map[uint64]uintptr
}

// OpenDevice opens the accelerator at index within the usable-node list,
// acquires its GPU virtual-memory context and returns the handle. Every
// failure along the construction sequence reports ErrDeviceInit wrapping the
// step's cause.
func (drv *Driver) OpenDevice(index int) (*Device, error) {
	if err := drv.Open(); err != nil {
		return nil, err
	}

	nodes, err := drv.Nodes()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(nodes) {
		return nil, ErrDeviceInit.Wrap(
			ErrNoSuchDevice.Wrapf("index %d with %d usable nodes", index, len(nodes)))
	}
	node := nodes[index]

	minor, found := node.RenderMinor()
	if !found {
		return nil, ErrDeviceInit.Wrap(
			topology.ErrMalformedTopology.Wrapf("node %d has no drm_render_minor", node.Index))
	}

	renderFD, err := drv.config.OpenFile(
		filepath.Join(drv.config.RenderRoot, fmt.Sprintf("renderD%d", minor)))
	if err != nil {
		return nil, ErrDeviceInit.Wrap(err)
	}

	acquire := kfd.AcquireVMArgs{
		DrmFD: uint32(renderFD),
		GPUID: node.GPUID,
	}
	if err := drv.ioctl(kfd.CmdAcquireVM, unsafe.Pointer(&acquire), unsafe.Sizeof(acquire)); err != nil {
		drv.config.CloseFile(renderFD)
		return nil, ErrDeviceInit.Wrap(err)
	}

	dev := &Device{
		SessionID:     uuid.New(),
		driver:        drv,
		node:          node,
		renderFD:      renderFD,
		allocations:   orderedmap.New[uint64, *Allocation](),
		queues:        orderedmap.New[uint32, *Queue](),
		events:        orderedmap.New[uint32, *Event](),
		doorbellPages: map[uint64]uintptr{},
	}

	drv.handles.Set(node.GPUID, dev)

	logger.Infof("opened node %d gpu 0x%X %s, session %s",
		node.Index, node.GPUID, node.Target, dev.SessionID)

	return dev, nil
}

func (dev *Device) Node() topology.Node {
	return dev.node
}

func (dev *Device) GPUID() uint32 {
	return dev.node.GPUID
}

// property fetches a required topology property for sizing computations.
func (dev *Device) property(name string) (uint64, error) {
	value, found := dev.node.Property(name)
	if !found {
		return 0, topology.ErrMalformedTopology.Wrapf("node %d has no %s", dev.node.Index, name)
	}

	return value, nil
}

// ClockCounters samples the device and system clocks.
func (dev *Device) ClockCounters() (kfd.GetClockCountersArgs, error) {
	args := kfd.GetClockCountersArgs{
		GPUID: dev.node.GPUID,
	}
	err := dev.driver.ioctl(kfd.CmdGetClockCounters, unsafe.Pointer(&args), unsafe.Sizeof(args))
	return args, err
}

// AvailableMemory reports the bytes still allocatable on the device.
func (dev *Device) AvailableMemory() (uint64, error) {
	args := kfd.AvailableMemoryArgs{
		GPUID: dev.node.GPUID,
	}
	if err := dev.driver.ioctl(kfd.CmdAvailableMemory, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		return 0, err
	}

	return args.Available, nil
}

// Close destroys the handle's queues and events, frees its allocations,
// unmaps doorbell pages and closes the render descriptor, in that order.
// Closing twice is a no-op.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return nil
	}
	dev.closed = true

	var result error

	// Snapshot each collection first: the teardown helpers remove entries
	// as they go.
	var queues []*Queue
	for pair := dev.queues.Oldest(); pair != nil; pair = pair.Next() {
		queues = append(queues, pair.Value)
	}
	for _, q := range queues {
		result = errors.Join(result, dev.destroyQueueLocked(q))
	}

	var events []*Event
	for pair := dev.events.Oldest(); pair != nil; pair = pair.Next() {
		events = append(events, pair.Value)
	}
	for _, event := range events {
		result = errors.Join(result, dev.destroyEventLocked(event))
	}

	var allocations []*Allocation
	for pair := dev.allocations.Oldest(); pair != nil; pair = pair.Next() {
		allocations = append(allocations, pair.Value)
	}
	for _, allocation := range allocations {
		result = errors.Join(result, dev.freeLocked(allocation))
	}

	for base, addr := range dev.doorbellPages {
		result = errors.Join(result, dev.driver.config.Mapper.Unmap(addr, kfd.DoorbellPageSize))
		delete(dev.doorbellPages, base)
	}

	if dev.renderFD >= 0 {
		result = errors.Join(result, dev.driver.config.CloseFile(dev.renderFD))
		dev.renderFD = -1
	}

	dev.driver.handles.Delete(dev.node.GPUID)

	logger.Infof("closed gpu 0x%X, session %s", dev.node.GPUID, dev.SessionID)

	return result
}
