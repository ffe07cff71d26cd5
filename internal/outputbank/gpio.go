package outputbank

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIOBank drives NumLines physical output pins via periph.io's gpioreg
// registry. Each line is serialized independently so a Pulse on one line
// never blocks Set/Pulse calls on another.
type GPIOBank struct {
	mu    []sync.Mutex
	pins  []gpio.PinOut
	state []Level
}

// OpenGPIOBank initializes the periph host drivers and binds pinNames, in
// line order, to NumLines physical pins. All lines start Low.
func OpenGPIOBank(pinNames [NumLines]string) (*GPIOBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	b := &GPIOBank{
		mu:    make([]sync.Mutex, NumLines),
		pins:  make([]gpio.PinOut, NumLines),
		state: make([]Level, NumLines),
	}
	for i, name := range pinNames {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %q not found for line %d", name, i)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("init line %d (%s) low: %w", i, name, err)
		}
		b.pins[i] = pin
	}
	return b, nil
}

func toGPIOLevel(l Level) gpio.Level {
	if l == High {
		return gpio.High
	}
	return gpio.Low
}

// Set drives line to level, skipping the write if the line is already there.
func (b *GPIOBank) Set(line int, level Level) error {
	if err := validateLine(line); err != nil {
		return &OutputError{Line: line, Op: "set", Err: err}
	}
	b.mu[line].Lock()
	defer b.mu[line].Unlock()
	if b.state[line] == level {
		return nil
	}
	if err := b.pins[line].Out(toGPIOLevel(level)); err != nil {
		return &OutputError{Line: line, Op: "set", Err: err}
	}
	b.state[line] = level
	return nil
}

// Pulse drives line High for d then restores whatever level the line held
// immediately before the pulse began. Concurrent pulses on the same line
// serialize: the second pulse's restore is the one that sticks.
func (b *GPIOBank) Pulse(line int, d time.Duration) error {
	if err := validateLine(line); err != nil {
		return &OutputError{Line: line, Op: "pulse", Err: err}
	}
	b.mu[line].Lock()
	defer b.mu[line].Unlock()

	restore := b.state[line]
	if err := b.pins[line].Out(gpio.High); err != nil {
		return &OutputError{Line: line, Op: "pulse", Err: err}
	}
	b.state[line] = High
	time.Sleep(d)
	if err := b.pins[line].Out(toGPIOLevel(restore)); err != nil {
		return &OutputError{Line: line, Op: "pulse", Err: err}
	}
	b.state[line] = restore
	return nil
}

// ReadStates returns the bank's last-known level per line. It reflects the
// last value this process wrote, not a hardware readback.
func (b *GPIOBank) ReadStates() []Level {
	out := make([]Level, NumLines)
	for i := range out {
		b.mu[i].Lock()
		out[i] = b.state[i]
		b.mu[i].Unlock()
	}
	return out
}

// Close drives every line low and releases no further resources; periph.io
// pins have no explicit close.
func (b *GPIOBank) Close() error {
	var firstErr error
	for i := range b.pins {
		if err := b.Set(i, Low); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TriggerInput watches a single GPIO pin for rising edges, used for the
// external trigger mode. It debounces by ignoring edges that arrive before
// minInterval has elapsed since the last accepted one.
type TriggerInput struct {
	pin         gpio.PinIO
	minInterval time.Duration
	mu          sync.Mutex
	lastAccept  time.Time
}

// OpenTriggerInput binds pinName as a pull-down input that watches for
// rising edges.
func OpenTriggerInput(pinName string, minInterval time.Duration) (*TriggerInput, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found for trigger input", pinName)
	}
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("configure trigger pin %q: %w", pinName, err)
	}
	return &TriggerInput{pin: pin, minInterval: minInterval}, nil
}

// WaitForEdge blocks until a debounced rising edge occurs or timeout elapses
// (zero timeout blocks indefinitely), returning true if an edge was accepted.
func (t *TriggerInput) WaitForEdge(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !t.pin.WaitForEdge(timeout) {
			return false
		}
		t.mu.Lock()
		now := time.Now()
		accept := now.Sub(t.lastAccept) >= t.minInterval
		if accept {
			t.lastAccept = now
		}
		t.mu.Unlock()
		if accept {
			return true
		}
		// Debounced: a real edge fired too soon after the last one. Loop and
		// keep waiting out the remaining timeout budget.
		if timeout != 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return false
			}
		}
	}
}
