// Package trigger turns bursts of navigation signals from the UI into single
// debounced sync runs.
//
// The machine moves Idle -> PendingDebounce -> Processing -> Idle. Signals
// that arrive while pending restart the debounce window; signals that arrive
// while processing schedule exactly one follow-up run.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the machine's current phase.
type State int

const (
	Idle State = iota
	PendingDebounce
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingDebounce:
		return "pending_debounce"
	case Processing:
		return "processing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives the machine.
type Event int

const (
	URLChanged Event = iota
	ContainerRepopulated
	ProcessingFinished
	debounceElapsed
)

func (e Event) String() string {
	switch e {
	case URLChanged:
		return "url_changed"
	case ContainerRepopulated:
		return "container_repopulated"
	case ProcessingFinished:
		return "processing_finished"
	case debounceElapsed:
		return "debounce_elapsed"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEvent maps the external names of navigation signals to events.
func ParseEvent(name string) (Event, error) {
	switch name {
	case "url_changed":
		return URLChanged, nil
	case "container_repopulated":
		return ContainerRepopulated, nil
	}
	return 0, fmt.Errorf("unknown navigation event %q", name)
}

// ProcessFunc is the work triggered once the debounce window closes.
type ProcessFunc func(ctx context.Context) error

// Machine is the debounce state machine. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    State
	rerun    bool
	timer    *time.Timer
	gen      uint64
	debounce time.Duration
	process  ProcessFunc
	ctx      context.Context
	src      EventSource
	logger   *slog.Logger
}

// NewMachine creates an idle machine. If debounce is <= 0, it defaults to 750ms.
func NewMachine(debounce time.Duration, process ProcessFunc) *Machine {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &Machine{
		debounce: debounce,
		process:  process,
		ctx:      context.Background(),
		logger:   slog.Default(),
	}
}

// Start installs src so its signals reach the machine. Processing runs with ctx.
func (m *Machine) Start(ctx context.Context, src EventSource) error {
	m.mu.Lock()
	m.ctx = ctx
	m.src = src
	m.mu.Unlock()

	if src == nil {
		return nil
	}
	if err := src.Install(m.Handle); err != nil {
		return fmt.Errorf("installing navigation source: %w", err)
	}
	return nil
}

// Stop uninstalls the event source and cancels a pending debounce. A run
// already in progress is left to finish.
func (m *Machine) Stop() error {
	m.mu.Lock()
	src := m.src
	m.src = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	if m.state == PendingDebounce {
		m.state = Idle
	}
	m.rerun = false
	m.mu.Unlock()

	if src == nil {
		return nil
	}
	return src.Uninstall()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle feeds one event into the machine.
func (m *Machine) Handle(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleLocked(ev, m.gen)
}

func (m *Machine) handleLocked(ev Event, gen uint64) {
	from := m.state
	switch m.state {
	case Idle:
		if ev == URLChanged || ev == ContainerRepopulated {
			m.arm()
		}
	case PendingDebounce:
		switch ev {
		case URLChanged, ContainerRepopulated:
			m.arm()
		case debounceElapsed:
			if gen != m.gen {
				return
			}
			m.timer = nil
			m.state = Processing
			go m.run(m.ctx)
		}
	case Processing:
		switch ev {
		case URLChanged, ContainerRepopulated:
			m.rerun = true
		case ProcessingFinished:
			if m.rerun {
				m.rerun = false
				m.arm()
			} else {
				m.state = Idle
			}
		}
	}
	if m.state != from {
		m.logger.Debug("navigation trigger transition", "event", ev.String(), "from", from.String(), "to", m.state.String())
	}
}

// arm (re)starts the debounce window.
func (m *Machine) arm() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.state = PendingDebounce
	m.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handleLocked(debounceElapsed, gen)
	})
}

func (m *Machine) run(ctx context.Context) {
	if err := m.process(ctx); err != nil {
		m.logger.Error("triggered sync failed", "error", err)
	}
	m.Handle(ProcessingFinished)
}
