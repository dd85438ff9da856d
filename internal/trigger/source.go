package trigger

import (
	"errors"
	"sync"
)

// ErrNotInstalled is returned by ChanSource.Emit when no machine is listening.
var ErrNotInstalled = errors.New("navigation source not installed")

// EventSource delivers navigation signals. Install hooks the source up to
// emit; Uninstall detaches it, after which emit is never called again.
type EventSource interface {
	Install(emit func(Event)) error
	Uninstall() error
}

// ChanSource is an EventSource fed programmatically, e.g. from the
// /navigation endpoint.
type ChanSource struct {
	mu   sync.Mutex
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup
}

// NewChanSource creates a source buffering up to buf signals.
func NewChanSource(buf int) *ChanSource {
	if buf <= 0 {
		buf = 16
	}
	return &ChanSource{ch: make(chan Event, buf)}
}

// Install starts forwarding signals to emit.
func (s *ChanSource) Install(emit func(Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("navigation source already installed")
	}
	done := make(chan struct{})
	s.done = done

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-done:
				return
			case ev := <-s.ch:
				emit(ev)
			}
		}
	}()
	return nil
}

// Uninstall stops forwarding and waits for the forwarder to exit.
func (s *ChanSource) Uninstall() error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	close(done)
	s.wg.Wait()
	return nil
}

// Emit queues ev. Signals beyond the buffer are dropped, which is harmless
// because the machine collapses bursts anyway.
func (s *ChanSource) Emit(ev Event) error {
	s.mu.Lock()
	installed := s.done != nil
	s.mu.Unlock()
	if !installed {
		return ErrNotInstalled
	}

	select {
	case s.ch <- ev:
	default:
	}
	return nil
}
