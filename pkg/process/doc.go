/*
Package process provides the process control block and the process
table.

# Process States

A process moves through three states:

  - Running: the process has not exited
  - Zombie: the process has exited; its status waits for the parent
  - Reaped: the parent collected the status and the slot was vacated

# Exit and Wait

Each process carries two semaphores, both starting at zero. An exiting
process records its status, signals ChildDone and sleeps on ParentAck.
The parent waits on ChildDone, reads the status and signals ParentAck,
after which the child vacates its own slot. A parent that exits first
signals ParentAck for every child still in the table, so orphans are
never left asleep.

# Usage

	t := process.NewTable(cfg.MaxProcs)
	t.Lock()
	p, err := t.AllocL(parent.PID, "/bin/sh", cfg.MaxChildren)
	if err == nil {
		err = parent.AddChild(p.PID)
		if err != nil {
			t.VacateL(p)
		}
	}
	t.Unlock()
*/
package process
