package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrStopped means a read was abandoned because its governing RateCounter
// was stopped.
var ErrStopped = errors.New("RateCounter stopped")

// A RateCounter is a credit pool enforcing a long-term average rate. It
// starts with one interval's worth of credits and a background goroutine
// deposits the same amount each interval. Consumers charge the pool for work
// done and wait on OK while the balance is overdrawn. Short bursts run at
// full speed; the average works out to the configured rate.
type RateCounter struct {
	c    chan struct{} // yields a value while the balance is positive
	stop chan struct{} // closed by Stop

	m       sync.Mutex // protects credits
	credits int64
}

// How often credits are deposited. A shorter interval spreads the work out
// more evenly but wakes the depositing goroutine more often.
const refillInterval = time.Minute

// NewRateCounter returns a RateCounter replenished at rate credits per
// second. Stop it when done with it, or its goroutine leaks.
func NewRateCounter(rate float64) *RateCounter {
	deposit := int64(rate * refillInterval.Seconds())
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: deposit,
	}
	go r.refill(deposit)
	return r
}

// Use takes count credits out of the pool. The balance is allowed to go
// negative; the debt works itself off over the following intervals.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// OK returns a channel that yields a value when the balance is positive. The
// channel is closed when the counter is stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop shuts down the refill goroutine and releases everything waiting on
// OK. Do not call it twice.
func (r *RateCounter) Stop() {
	close(r.stop)
}

func (r *RateCounter) refill(deposit int64) {
	tick := time.NewTicker(refillInterval)
	defer tick.Stop()
	for {
		// a send on a nil channel blocks forever, which disables that
		// case while the balance is overdrawn
		var ready chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			ready = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-deposit)
		case ready <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap returns a reader pacing reads from rd by this counter: each read
// first waits for a positive balance and then charges the bytes it got. One
// counter may pace any number of readers, across goroutines. Reads return
// ErrStopped once the counter is stopped.
func (r *RateCounter) Wrap(rd io.Reader) io.Reader {
	return rateReader{rd: rd, counter: r}
}

type rateReader struct {
	rd      io.Reader
	counter *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	if _, ok := <-r.counter.OK(); !ok {
		return 0, ErrStopped
	}
	n, err := r.rd.Read(p)
	r.counter.Use(int64(n))
	return n, err
}
