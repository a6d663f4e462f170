package task

// Context is handed to a task's entry function and is its only means of
// reaching the scheduler — task bodies never touch Scheduler directly,
// mirroring how ring-3 code can only reach the kernel through syscalls.
type Context struct {
	sched *Scheduler
	id    int
}

// ID returns the task's own id (spec syscall #4, getpid).
func (c *Context) ID() int { return c.id }

// UserImage returns the task's mapped ELF image bounds, or nil for a
// kernel task. The syscall gate consults this before touching any
// user-supplied buffer pointer (spec §4.5 "User-pointer validation").
func (c *Context) UserImage() *UserImage {
	s := c.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[c.id].UserImage
}

// Checkpoint is where a pending preemption actually takes effect. Task
// bodies must call it at a safepoint inside any loop that does not
// otherwise suspend (mirrors the compiler-inserted preemption checks a
// real goroutine runtime relies on, standing in for "the timer IRQ can
// land here"); skipping it means the task monopolizes the CPU past its
// quantum in this hosted simulation.
func (c *Context) Checkpoint() {
	s := c.sched
	s.mu.Lock()
	t := s.tasks[c.id]
	running := t.State == StateRunning && s.currentID == c.id
	s.mu.Unlock()
	if !running {
		<-t.proceed
	}
}

// Yield marks the task Ready and immediately requests a reschedule
// (syscall #1).
func (c *Context) Yield() {
	s := c.sched
	t := s.tasks[c.id]
	s.mu.Lock()
	t.State = StateReady
	s.mu.Unlock()
	s.schedule()
	<-t.proceed
}

// Sleep marks the task Sleeping until global_ticks >= now+ticks and
// reschedules (syscall #2). Per spec S4.5/S8.4, the caller only resumes
// once the scheduler's tick-driven scan observes the deadline elapsed.
func (c *Context) Sleep(ticks uint64) {
	s := c.sched
	t := s.tasks[c.id]
	s.mu.Lock()
	t.State = StateSleeping
	t.WakeTick = s.ticks + ticks
	s.mu.Unlock()
	s.schedule()
	<-t.proceed
}

// Exit marks the task Exited and never returns (syscall #3): it unwinds
// the task goroutine's stack back to the Scheduler's spawn wrapper via a
// recovered panic, the hosted-harness analogue of a syscall that never
// IRETs to its caller.
func (c *Context) Exit(code int) {
	panic(exitSignal{code: code})
}
