package flow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultBurstInterval = 10 * time.Second

// Sampler reads the cumulative counter directly from the device.
type Sampler func(ctx context.Context) (float64, error)

// Publisher receives every new rate. It is called with the engine lock held
// and must not call back into the engine.
type Publisher func(rate float64)

type EngineConfig struct {
	Name          string
	BurstInterval time.Duration
	WindowSize    int
	Now           func() time.Time
}

// Engine drives one Estimator: the refresh cycle feeds it through Update,
// and while the counter keeps moving a burst goroutine samples it faster.
type Engine struct {
	name     string
	interval time.Duration
	now      func() time.Time
	sample   Sampler
	publish  Publisher
	logger   *zap.Logger

	mu          sync.Mutex
	est         *Estimator
	burstCancel context.CancelFunc
	stopped     bool
	wg          sync.WaitGroup
}

func NewEngine(cfg EngineConfig, sample Sampler, publish Publisher, logger *zap.Logger) *Engine {
	interval := cfg.BurstInterval
	if interval <= 0 {
		interval = DefaultBurstInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		name:     cfg.Name,
		interval: interval,
		now:      now,
		sample:   sample,
		publish:  publish,
		logger:   logger.With(zap.String("metric", cfg.Name)),
		est:      NewEstimator(cfg.WindowSize),
	}
}

func (e *Engine) Name() string {
	return e.name
}

// Update feeds a counter value read by the regular refresh cycle.
func (e *Engine) Update(value float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	if e.est.Mode() == ModeBurst && e.est.Enabled() {
		return
	}

	rate, startBurst := e.est.Normal(value, at)
	e.publish(rate)

	if startBurst {
		e.logger.Debug("Counter moving, entering burst polling", zap.Float64("rate", rate))
		e.startBurstLocked(e.est.Generation())
	}
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.est.Enabled() == enabled {
		return
	}

	e.est.SetEnabled(enabled)
	e.cancelBurstLocked()
	if !enabled {
		e.publish(0)
	}

	e.logger.Info("Flow estimation toggled", zap.Bool("enabled", enabled))
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.est.Enabled()
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.est.Mode()
}

func (e *Engine) Output() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.est.Output()
}

// Stop cancels a running burst and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cancelBurstLocked()
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) startBurstLocked(gen uint64) {
	e.cancelBurstLocked()

	ctx, cancel := context.WithCancel(context.Background())
	e.burstCancel = cancel

	e.wg.Add(1)
	go e.burstLoop(ctx, gen)
}

func (e *Engine) cancelBurstLocked() {
	if e.burstCancel != nil {
		e.burstCancel()
		e.burstCancel = nil
	}
}

func (e *Engine) burstLoop(ctx context.Context, gen uint64) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value, err := e.sample(ctx)
			if err != nil {
				e.logger.Debug("Burst sample failed", zap.Error(err))
				continue
			}

			if !e.applyBurst(ctx, gen, value) {
				return
			}
		}
	}
}

func (e *Engine) applyBurst(ctx context.Context, gen uint64, value float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil || e.est.Generation() != gen {
		return false
	}

	rate, keepGoing := e.est.Burst(gen, value, e.now())
	e.publish(rate)

	if !keepGoing {
		e.logger.Debug("Counter stopped, leaving burst polling")
		e.cancelBurstLocked()
	}
	return keepGoing
}
