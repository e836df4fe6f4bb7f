/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

// PM4 packet encoding for command-processor rings. Only the type-3 packets
// the runtime emits are covered.

const (
	pm4TypeShift            = 30
	pm4CountShift           = 16
	pm4CountMask            = 0x3FFF
	pm4OpcodeShift          = 8
	pm4IndirectBufferOpcode = 0x3F

	pm4IBValid = 1 << 23
)

// pm4Type3Header encodes a type-3 packet header carrying opcode and the
// number of payload dwords after the header.
func pm4Type3Header(opcode uint32, dwords uint32) uint32 {
	return 3<<pm4TypeShift | ((dwords-1)&pm4CountMask)<<pm4CountShift | opcode<<pm4OpcodeShift
}

// PM4IndirectBuffer encodes an INDIRECT_BUFFER packet pointing the command
// processor at a secondary buffer of sizeDwords dwords, followed by the
// completion-signal handle the firmware fences against. ibBase must be
// 4-byte aligned; the low two bits are dropped.
func PM4IndirectBuffer(ibBase uint64, sizeDwords uint32, signalHandle uint64) []uint32 {
	return []uint32{
		pm4Type3Header(pm4IndirectBufferOpcode, 5),
		uint32(ibBase) &^ 0x3,
		uint32(ibBase>>32) & 0xFFFF,
		sizeDwords | pm4IBValid,
		uint32(signalHandle),
		uint32(signalHandle >> 32),
	}
}
