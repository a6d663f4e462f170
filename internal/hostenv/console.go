package hostenv

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/vt"
)

// DefaultConsoleCols/Rows match the 80x40 VGA text geometry the teacher's
// term.View defaults to.
const (
	DefaultConsoleCols = 80
	DefaultConsoleRows = 25
)

// Console models the host-facing console_write collaborator (spec §6):
// "non-blocking, always succeeds". It renders bytes written by the kernel
// through a VT100 emulator so an attached terminal (cmd/codexrun,
// golang.org/x/term raw mode) sees real escape-sequence behavior, adapting
// the teacher's internal/term.View down to its text core (no windowing/GPU
// rendering, which is out of scope here).
type Console struct {
	mu  sync.Mutex
	emu *vt.SafeEmulator
}

func NewConsole(cols, rows int) *Console {
	if cols <= 0 {
		cols = DefaultConsoleCols
	}
	if rows <= 0 {
		rows = DefaultConsoleRows
	}
	return &Console{emu: vt.NewSafeEmulator(cols, rows)}
}

// Write implements the console_write driver contract: it never blocks and
// never fails — malformed escape sequences are absorbed by the VT100
// emulator, not surfaced as an error.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emu.Write(p)
}

// Snapshot renders the current screen grid as plain text lines, trimming
// trailing blanks, for diagnostics and tests.
func (c *Console) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.emu.Height()
	cols := c.emu.Width()
	lines := make([]string, 0, rows)
	for y := 0; y < rows; y++ {
		var sb strings.Builder
		for x := 0; x < cols; x++ {
			cell := c.emu.CellAt(x, y)
			if cell == nil || cell.Content == "" {
				sb.WriteByte(' ')
				continue
			}
			sb.WriteString(cell.Content)
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	return lines
}
