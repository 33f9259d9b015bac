package cpu

import "runtime"

// Switch saves the calling flow into from and transfers control to to.
//
// The call returns only when some later Switch targets from. A zero Context
// (no resume slot) as from is a throwaway slot: the calling flow can never be
// resumed, so its goroutine exits once control has been handed over.
//
// Switch is not reentrant: from and to must name different flows.
func Switch(from, to *Context) {
	if from == to {
		panic("cpu: switch into the running context")
	}
	if !to.resumable() {
		panic("cpu: switch into a throwaway context")
	}
	if from.resumable() {
		from.ra = SwitchReturnAddr
	}
	to.transfer()
	if !from.resumable() {
		runtime.Goexit()
	}
	<-from.resume
}

func (c *Context) transfer() {
	if c.started {
		c.resume <- struct{}{}
		return
	}
	c.started = true
	go c.enter()
}

func (c *Context) enter() {
	c.entry()
	panic("cpu: context entry returned")
}
