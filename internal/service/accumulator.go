package service

import (
	"sync"
	"time"
)

// Accumulator fires onTick at a fixed interval until stopped. It carries no
// attendance logic; the presence loop does the actual Tick.
type Accumulator struct {
	interval time.Duration
	onTick   func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewAccumulator(interval time.Duration, onTick func()) *Accumulator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Accumulator{interval: interval, onTick: onTick}
}

// Start is a no-op when already running
func (a *Accumulator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
}

// Stop cancels the ticker and waits for the loop to exit
func (a *Accumulator) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (a *Accumulator) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			a.onTick()
		}
	}
}
