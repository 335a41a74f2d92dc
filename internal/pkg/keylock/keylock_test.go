package keylock

import (
	"sync"
	"testing"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("relay:1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected counter 50, got %d", counter)
	}
	if l.Len() != 0 {
		t.Errorf("Expected lock table to be empty, got %d entries", l.Len())
	}
}

func TestLocker_DistinctKeysDoNotBlock(t *testing.T) {
	l := New()

	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	<-done
}

func TestLocker_ReleaseIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("a")
	unlock()
	unlock()

	if l.Len() != 0 {
		t.Errorf("Expected 0 entries, got %d", l.Len())
	}
}
