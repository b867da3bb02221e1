// Package opcodes provides human-readable names for NVMe admin and I/O
// opcodes, used by debug/log output and the JSON-RPC surface. Pure
// lookup tables with no package state.
package opcodes

const (
	vendorSpecific = "Vendor specific"
	unknown        = "Unknown"

	adminVendorThreshold byte = 0xC0
	ioVendorThreshold    byte = 0x80
)

var adminNames = map[byte]string{
	0x00: "Delete I/O Submission Queue",
	0x01: "Create I/O Submission Queue",
	0x02: "Get Log Page",
	0x04: "Delete I/O Completion Queue",
	0x05: "Create I/O Completion Queue",
	0x06: "Identify",
	0x08: "Abort",
	0x09: "Set Features",
	0x0A: "Get Features",
	0x0C: "Asynchronous Event Request",
	0x10: "Firmware Commit",
	0x11: "Firmware Image Download",
	0x14: "Device Self-test",
	0x15: "Namespace Attachment",
	0x18: "Keep Alive",
	0x19: "Directive Send",
	0x1A: "Directive Receive",
	0x7C: "Doorbell Buffer Config",
}

var ioNames = map[byte]string{
	0x00: "Flush",
	0x01: "Write",
	0x02: "Read",
	0x04: "Write Uncorrectable",
	0x05: "Compare",
	0x08: "Write Zeroes",
	0x09: "Dataset Management",
	0x0D: "Reservation Register",
	0x0E: "Reservation Report",
	0x11: "Reservation Acquire",
	0x15: "Reservation Release",
	0x19: "Verify",
	0x1D: "Copy",
}

// AdminName returns a human-readable name for an admin opcode.
func AdminName(op byte) string {
	if name, ok := adminNames[op]; ok {
		return name
	}
	if op >= adminVendorThreshold {
		return vendorSpecific
	}
	return unknown
}

// IOName returns a human-readable name for an I/O opcode.
func IOName(op byte) string {
	if name, ok := ioNames[op]; ok {
		return name
	}
	if op >= ioVendorThreshold {
		return vendorSpecific
	}
	return unknown
}
