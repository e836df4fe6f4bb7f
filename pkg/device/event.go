/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"unsafe"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
)

var (
	ErrEventCreate = errors.New("device: event creation failed")
)

// Event is a driver-side signal slot. The hardware writes the slot inside
// the event page; the ids here address it through the driver.
type Event struct {
	ID          uint32
	SlotIndex   uint32
	TriggerData uint32

	dev *Device
}

// CreateEvent allocates a signal-type event slot backed by the given event
// page allocation. The driver hands back an event id of zero only when its
// slot table is exhausted, which the runtime treats as failure.
func (dev *Device) CreateEvent(autoReset bool, backing *Allocation) (*Event, error) {
	args := kfd.CreateEventArgs{
		EventType: kfd.EventTypeSignal,
		NodeID:    dev.node.GPUID,
	}
	if autoReset {
		args.AutoReset = 1
	}
	if backing != nil {
		args.EventPageOffset = backing.Handle
	}

	if err := dev.driver.ioctl(kfd.CmdCreateEvent, unsafe.Pointer(&args), unsafe.Sizeof(args)); err != nil {
		return nil, ErrEventCreate.Wrap(err)
	}

	if args.EventID == 0 {
		return nil, ErrEventCreate.Wrapf("gpu 0x%X returned no event slot", dev.node.GPUID)
	}

	event := &Event{
		ID:          args.EventID,
		SlotIndex:   args.EventSlotIndex,
		TriggerData: args.EventTriggerData,
		dev:         dev,
	}

	dev.mu.Lock()
	dev.events.Set(event.ID, event)
	dev.mu.Unlock()

	return event, nil
}

// Set raises the event from the host side.
func (event *Event) Set() error {
	args := kfd.SetEventArgs{EventID: event.ID}
	return event.dev.driver.ioctl(kfd.CmdSetEvent, unsafe.Pointer(&args), unsafe.Sizeof(args))
}

// Reset rearms the event.
func (event *Event) Reset() error {
	args := kfd.ResetEventArgs{EventID: event.ID}
	return event.dev.driver.ioctl(kfd.CmdResetEvent, unsafe.Pointer(&args), unsafe.Sizeof(args))
}

func (dev *Device) destroyEventLocked(event *Event) error {
	args := kfd.DestroyEventArgs{EventID: event.ID}
	err := dev.driver.ioctl(kfd.CmdDestroyEvent, unsafe.Pointer(&args), unsafe.Sizeof(args))

	dev.events.Delete(event.ID)
	return err
}

// DestroyEvent releases the event's driver slot.
func (dev *Device) DestroyEvent(event *Event) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.destroyEventLocked(event)
}
