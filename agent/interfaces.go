// Package agent implements the fleet client: it polls the server's action
// state machine over the TCP control connection and executes Store (image
// the local disk up to the server), Flash (write a named image to the
// local disk), Register, Reboot, and Shutdown.
package agent

import "io"

// BlockDevice is the local disk the agent stores from or flashes to. A
// production agent backs this with an *os.File opened on a raw block
// device; tests back it with an in-memory byte buffer.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// BootManager manipulates the UEFI boot order so the machine boots into
// the freshly-flashed OS (or back into the PXE agent) on next reboot. The
// agent binary in this exercise runs on a regular OS rather than UEFI
// firmware, so the production implementation is file-backed rather than
// calling real UEFI runtime services.
type BootManager interface {
	SetRebootTarget(bootOptionID uint16, entry []byte) error
}

// DHCPWriter regenerates the PXE/TFTP/DHCP configuration driving network
// boot for the fleet; out of this exercise's core scope, so the shipped
// implementation just logs.
type DHCPWriter interface {
	Write(hostmap map[string]string) error
}

// PingListener answers a liveness probe from the server's ping collector;
// out of this exercise's core scope.
type PingListener interface {
	Listen() error
}

// SerialUI renders agent status to a local console; out of this exercise's
// core scope.
type SerialUI interface {
	SetStatus(msg string)
}

// OSExecutor performs the agent's reboot and shutdown system calls,
// narrowed to a testable interface.
type OSExecutor interface {
	Reboot() error
	Shutdown() error
}
