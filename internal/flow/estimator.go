package flow

import "time"

type Mode int

const (
	ModeIdle Mode = iota
	ModeBurst
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeBurst:
		return "BURST_POLLING"
	default:
		return "UNKNOWN"
	}
}

const DefaultWindowSize = 3

// Estimator turns samples of a cumulative counter into a rate per minute.
// It is not safe for concurrent use; Engine serializes access to it.
type Estimator struct {
	windowSize int
	enabled    bool
	mode       Mode

	hasPrev   bool
	prevValue float64
	prevAt    time.Time

	window []float64
	output float64

	// gen changes whenever a burst starts or is cancelled
	gen uint64
}

func NewEstimator(windowSize int) *Estimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Estimator{
		windowSize: windowSize,
		window:     make([]float64, 0, windowSize),
	}
}

func (e *Estimator) Mode() Mode {
	return e.mode
}

func (e *Estimator) Output() float64 {
	return e.output
}

func (e *Estimator) Enabled() bool {
	return e.enabled
}

func (e *Estimator) Generation() uint64 {
	return e.gen
}

// SetEnabled switches estimation on or off. Turning it off from any mode
// returns to Idle with a zero output and invalidates a running burst.
func (e *Estimator) SetEnabled(enabled bool) {
	if enabled == e.enabled {
		return
	}
	e.enabled = enabled
	e.reset()
	e.gen++
}

// Normal handles a sample from the regular refresh cycle. startBurst reports
// that the counter moved and fast sampling should begin.
func (e *Estimator) Normal(value float64, at time.Time) (rate float64, startBurst bool) {
	if !e.enabled {
		e.reset()
		return 0, false
	}

	// the burst loop owns the output while it runs
	if e.mode == ModeBurst {
		return e.output, false
	}

	if !e.hasPrev {
		e.remember(value, at)
		e.output = 0
		return 0, false
	}

	dt := at.Sub(e.prevAt).Seconds()
	if dt <= 0 {
		return e.output, false
	}

	if value == e.prevValue {
		e.remember(value, at)
		e.output = 0
		return 0, false
	}

	rate = (value - e.prevValue) / dt * 60
	e.remember(value, at)
	e.window = e.window[:0]
	e.mode = ModeBurst
	e.gen++
	e.output = rate
	return rate, true
}

// Burst handles a fast sample taken by the burst loop started for gen.
// keepGoing is false once the counter stops moving or the burst is stale.
func (e *Estimator) Burst(gen uint64, value float64, at time.Time) (rate float64, keepGoing bool) {
	if !e.enabled || e.mode != ModeBurst || gen != e.gen {
		return e.output, false
	}

	dt := at.Sub(e.prevAt).Seconds()
	if dt <= 0 {
		return e.output, true
	}

	if value == e.prevValue {
		e.remember(value, at)
		e.window = e.window[:0]
		e.mode = ModeIdle
		e.output = 0
		return 0, false
	}

	rate = (value - e.prevValue) / dt * 60
	e.remember(value, at)

	if len(e.window) == e.windowSize {
		copy(e.window, e.window[1:])
		e.window = e.window[:e.windowSize-1]
	}
	e.window = append(e.window, rate)

	if len(e.window) == e.windowSize {
		var sum float64
		for _, r := range e.window {
			sum += r
		}
		e.output = sum / float64(len(e.window))
	} else {
		e.output = rate
	}

	return e.output, true
}

func (e *Estimator) remember(value float64, at time.Time) {
	e.hasPrev = true
	e.prevValue = value
	e.prevAt = at
}

func (e *Estimator) reset() {
	e.hasPrev = false
	e.prevValue = 0
	e.prevAt = time.Time{}
	e.window = e.window[:0]
	e.mode = ModeIdle
	e.output = 0
}
