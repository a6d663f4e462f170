// Package console is the driver-contract boundary between the kernel
// core's narrow Console interfaces (internal/kernel/syscall.Console) and
// the concrete VT100 emulator in internal/hostenv. Keeping this as its
// own package — rather than having kernel packages import hostenv
// directly — mirrors the teacher's habit of layering a thin logging
// wrapper between a device model and its consumers.
package console

import (
	"log/slog"

	"github.com/doldol22312/codexos/internal/hostenv"
)

// Driver adapts a *hostenv.Console to the kernel core's Console contract,
// logging each write at debug level the way the teacher's device
// wrappers trace host-facing I/O.
type Driver struct {
	log *slog.Logger
	c   *hostenv.Console
}

// New wraps c, sized per cols/rows, behind the driver contract.
func New(cols, rows int) *Driver {
	return &Driver{log: slog.Default().With("component", "console"), c: hostenv.NewConsole(cols, rows)}
}

// Write implements the syscall package's Console interface
// (console_write: non-blocking, always succeeds per spec §6).
func (d *Driver) Write(p []byte) (int, error) {
	n, err := d.c.Write(p)
	d.log.Debug("console_write", "bytes", n, "error", err)
	return n, err
}

// Snapshot exposes the current screen contents for diagnostics/tests.
func (d *Driver) Snapshot() []string {
	return d.c.Snapshot()
}
