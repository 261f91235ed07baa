package util

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter(),
// which blocks until there is room, and signal that they are done by
// calling Leave(). A gate can be stopped, which turns away everyone still
// waiting to enter, so a server shutting down can refuse new work while the
// requests already inside finish up.
type Gate struct {
	c    chan struct{} // one token per goroutine inside the gate
	done chan struct{} // closed when the gate is stopped
}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) *Gate {
	return &Gate{
		c:    make(chan struct{}, n),
		done: make(chan struct{}),
	}
}

// Enter is called at the beginning of the section to be protected by the
// gate. It blocks the calling goroutine until there are less than n others
// inside, and then returns true. It returns false if the gate was stopped
// before room opened up. It is safe to call from multiple goroutines.
func (g *Gate) Enter() bool {
	select {
	case g.c <- struct{}{}:
		return true
	case <-g.done:
		return false
	}
}

// Leave marks a goroutine outside the critical section. It is important to
// balance each successful Enter with a call to Leave. Enter and Leave do
// not need to be called from the same goroutine, necessarily.
func (g *Gate) Leave() {
	<-g.c
}

// Stop closes the gate. Everyone blocked in Enter is released with a false
// return, and Stop then waits for the goroutines already inside to Leave.
// Afterward every call to Enter returns false. Do not call Stop twice.
func (g *Gate) Stop() {
	close(g.done)
	// fill the channel so Enter can never send on it again. each send
	// also accounts for one Leave of a goroutine that was inside.
	for i := 0; i < cap(g.c); i++ {
		g.c <- struct{}{}
	}
}
