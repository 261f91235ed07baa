package util

import (
	"io/ioutil"
	"strings"
	"testing"
	"time"
)

func TestRateCounterRead(t *testing.T) {
	// start with a large enough rate that the initial credit pool covers
	// everything we read, so the test never waits on the refill tick
	r := NewRateCounter(1000)
	const text = "hello hello hello hello"
	data, err := ioutil.ReadAll(r.Wrap(strings.NewReader(text)))
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if string(data) != text {
		t.Fatalf("Got %s, expected %s", data, text)
	}
	r.Stop()
	_, err = r.Wrap(strings.NewReader(text)).Read(make([]byte, 4))
	if err != ErrStopped {
		t.Fatalf("Got %v, expected %v", err, ErrStopped)
	}
}

func TestRateCounterNegative(t *testing.T) {
	r := NewRateCounter(1)
	r.Use(1000)
	// a single signal may have been armed before the Use above. consume it.
	select {
	case <-r.OK():
	case <-time.After(20 * time.Millisecond):
	}
	select {
	case <-r.OK():
		t.Fatalf("OK yielded with negative credits")
	case <-time.After(20 * time.Millisecond):
	}
	r.Stop()
}
