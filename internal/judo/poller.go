package judo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"go.uber.org/zap"
)

type PollerConfig struct {
	Interval      time.Duration
	CycleDeadline time.Duration
}

type readResult struct {
	data string
	ok   bool
}

// Poller refreshes the device registers on a fixed interval. RefreshAll and
// RefreshSubset may also be called directly; cycles never overlap.
type Poller struct {
	device   *Device
	interval time.Duration
	deadline time.Duration
	logger   *zap.Logger

	cycleMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	lastCycle time.Time
}

func NewPoller(device *Device, cfg PollerConfig, logger *zap.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	deadline := cfg.CycleDeadline
	if deadline <= 0 {
		deadline = interval / 2
	}

	return &Poller{
		device:   device,
		interval: interval,
		deadline: deadline,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs a full refresh immediately and then one per interval.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))

	return nil
}

// Stop waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) LastCycle() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCycle
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runCycle()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.runCycle()
		}
	}
}

func (p *Poller) runCycle() {
	if err := p.RefreshAll(context.Background()); err != nil {
		p.logger.Warn("Refresh cycle incomplete", zap.Error(err))
	}
}

func (p *Poller) RefreshAll(ctx context.Context) error {
	return p.refresh(ctx, nil)
}

// RefreshSubset refreshes the registers at the given catalog indices.
// An empty list refreshes everything.
func (p *Poller) RefreshSubset(ctx context.Context, indices []int) error {
	return p.refresh(ctx, indices)
}

func (p *Poller) refresh(ctx context.Context, indices []int) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	items := p.selectItems(indices)
	responses := make(map[types.Address]readResult)
	updated := make(map[string]LiveValue)

	var cycleErr error
	failed := 0

	for i, desc := range items {
		if ctx.Err() != nil {
			skipped := len(items) - i
			p.logger.Warn("Refresh cycle deadline exceeded",
				zap.Duration("deadline", p.deadline),
				zap.Int("skipped", skipped))
			cycleErr = fmt.Errorf("%w: %d registers skipped", types.ErrCycleDeadline, skipped)
			break
		}

		if !desc.Readable() {
			continue
		}

		addr := *desc.ReadAddress
		res, seen := responses[addr]
		if !seen {
			data, ok := p.device.transport.Read(ctx, addr)
			res = readResult{data: data, ok: ok}
			responses[addr] = res
		}

		if !res.ok {
			failed++
			p.logger.Error("Poll failed",
				zap.String("register", desc.TranslationKey),
				zap.String("address", addr.String()),
				zap.Error(types.ErrTransport))
			continue
		}

		value, err := decodeRegister(desc, res.data)
		if err != nil {
			failed++
			p.logger.Error("Poll failed",
				zap.String("register", desc.TranslationKey),
				zap.String("address", addr.String()),
				zap.Error(err))
			continue
		}

		updated[desc.TranslationKey] = p.device.store.Set(desc.TranslationKey, value)
	}

	p.device.feedDerived(updated)

	p.mu.Lock()
	p.lastCycle = time.Now()
	p.mu.Unlock()

	p.logger.Debug("Refresh cycle finished",
		zap.Int("updated", len(updated)),
		zap.Int("failed", failed))

	return cycleErr
}

func (p *Poller) selectItems(indices []int) []*types.RegisterDescriptor {
	cat := p.device.catalog

	if len(indices) == 0 {
		items := make([]*types.RegisterDescriptor, 0, cat.Len())
		for i := 0; i < cat.Len(); i++ {
			desc, _ := cat.At(i)
			items = append(items, desc)
		}
		return items
	}

	items := make([]*types.RegisterDescriptor, 0, len(indices))
	for _, i := range indices {
		desc, ok := cat.At(i)
		if !ok {
			p.logger.Warn("Ignoring out-of-range register index", zap.Int("index", i))
			continue
		}
		items = append(items, desc)
	}
	return items
}
