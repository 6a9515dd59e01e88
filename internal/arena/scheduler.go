package arena

import (
	"sync"
	"time"
)

// Scheduler runs fn every d until the returned stop func is called.
// fn must execute on the same serialized context as message handling.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// loopScheduler ticks on its own goroutine and posts fn into the manager loop.
type loopScheduler struct {
	m *Manager
}

func (s loopScheduler) Every(d time.Duration, fn func()) func() {
	quit := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-s.m.done:
				return
			case <-t.C:
				if !s.m.post(fn) {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(quit) }) }
}
