// Package syscall implements spec C10: the vector-0x80 syscall gate and
// its five syscalls. Call number and arguments arrive in fixed registers
// in a real kernel; this hosted harness represents that ABI as a Go
// struct (Regs) the simulation loop fills in from a user task's saved
// context before calling Gate.Dispatch.
package syscall

import (
	"github.com/doldol22312/codexos/internal/kernel/task"
)

// Syscall numbers (spec §4.5 table).
const (
	SysWrite  = 0
	SysYield  = 1
	SysSleep  = 2
	SysExit   = 3
	SysGetpid = 4
)

// EFAULT is the exit code a task receives when it passes a syscall a
// buffer outside its mapped user_image (spec §4.5 "User-pointer
// validation").
const EFAULT = -14

// Regs is the syscall ABI: call number in A, args in B/C/D, return in A.
type Regs struct {
	A, B, C, D uint32
}

// Console is the narrow host-facing console_write collaborator write(1,...)
// copies into.
type Console interface {
	Write(p []byte) (int, error)
}

// UserMemory reads bytes from a task's mapped address space for syscalls
// that take a user buffer pointer (write's buf argument). img is the
// calling task's UserImage (nil for a kernel task); an implementation
// must reject any [addr, addr+length) that does not lie entirely within
// it before translating anything, per spec §4.5's user-pointer
// validation rule.
type UserMemory interface {
	ReadUser(img *task.UserImage, addr, length uint32) ([]byte, error)
}

// Gate dispatches syscalls for the currently-running task.
type Gate struct {
	sched   *task.Scheduler
	console Console
	mem     UserMemory
}

func NewGate(sched *task.Scheduler, console Console, mem UserMemory) *Gate {
	return &Gate{sched: sched, console: console, mem: mem}
}

// Dispatch services one INT 0x80 trap from ctx's task, mutating regs.A to
// hold the return value (spec §6 "call number in A... return in A").
// yield/sleep/exit never return to their caller in a real kernel; here
// they return normally because Context.Yield/Sleep/Exit themselves block
// or panic, so the caller (the simulation loop) still sees Dispatch
// return once the task is redispatched (or never, for exit).
func (g *Gate) Dispatch(ctx *task.Context, regs *Regs) {
	switch regs.A {
	case SysWrite:
		g.sysWrite(ctx, regs)
	case SysYield:
		ctx.Yield()
		regs.A = 0
	case SysSleep:
		ctx.Sleep(uint64(regs.B))
		regs.A = 0
	case SysExit:
		ctx.Exit(int(int32(regs.B))) // never returns
	case SysGetpid:
		regs.A = uint32(ctx.ID())
	default:
		regs.A = uint32(EFAULT)
	}
}

func (g *Gate) sysWrite(ctx *task.Context, regs *Regs) {
	fd, addr, length := regs.B, regs.C, regs.D
	if fd != 1 {
		regs.A = uint32(EFAULT)
		return
	}
	buf, err := g.mem.ReadUser(ctx.UserImage(), addr, length)
	if err != nil {
		ctx.Exit(EFAULT) // never returns
		return
	}
	n, werr := g.console.Write(buf)
	if werr != nil {
		regs.A = 0
		return
	}
	regs.A = uint32(n)
}
