package judo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/catalog"
	"github.com/KevinKickass/OpenWaterCore/internal/codec"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/flow"
	"github.com/KevinKickass/OpenWaterCore/internal/storage"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"go.uber.org/zap"
)

type DeviceConfig struct {
	BurstInterval time.Duration
	WindowSize    int
}

// Device is the read/set surface of one appliance. Every outer interface goes
// through Value, Snapshot and Set.
type Device struct {
	catalog   *catalog.Catalog
	transport Transport
	store     *Store
	cache     storage.Cache
	assembler *Assembler
	logger    *zap.Logger

	engines  map[string]*flow.Engine   // derived key -> engine
	bySource map[string][]*flow.Engine // source key -> engines
	byFlag   map[string][]*flow.Engine // flag key -> engines

	groupLocks map[string]*sync.Mutex
}

func NewDevice(
	cat *catalog.Catalog,
	transport Transport,
	cache storage.Cache,
	streamer *events.Streamer,
	cfg DeviceConfig,
	logger *zap.Logger,
) *Device {
	store := NewStore(streamer)

	d := &Device{
		catalog:    cat,
		transport:  transport,
		store:      store,
		cache:      cache,
		assembler:  NewAssembler(cat, store, cache),
		logger:     logger,
		engines:    make(map[string]*flow.Engine),
		bySource:   make(map[string][]*flow.Engine),
		byFlag:     make(map[string][]*flow.Engine),
		groupLocks: make(map[string]*sync.Mutex),
	}

	for _, g := range cat.Groups() {
		d.groupLocks[g.Name] = &sync.Mutex{}
	}

	for _, desc := range cat.Derived() {
		key := desc.TranslationKey
		source := desc.DerivedFrom

		engine := flow.NewEngine(flow.EngineConfig{
			Name:          key,
			BurstInterval: cfg.BurstInterval,
			WindowSize:    cfg.WindowSize,
		}, d.sampler(source), func(rate float64) {
			store.Set(key, rate)
		}, logger)

		if desc.EnabledBy == "" {
			engine.SetEnabled(true)
		} else {
			d.byFlag[desc.EnabledBy] = append(d.byFlag[desc.EnabledBy], engine)
		}

		d.engines[key] = engine
		d.bySource[source] = append(d.bySource[source], engine)
	}

	return d
}

func (d *Device) Catalog() *catalog.Catalog {
	return d.catalog
}

func (d *Device) Descriptor(key string) (*types.RegisterDescriptor, bool) {
	return d.catalog.Lookup(key)
}

func (d *Device) Value(key string) (LiveValue, bool) {
	return d.store.Get(key)
}

// Snapshot returns all known values in catalog order.
func (d *Device) Snapshot() []LiveValue {
	out := make([]LiveValue, 0, d.store.Len())
	for _, desc := range d.catalog.Registers() {
		if lv, ok := d.store.Get(desc.TranslationKey); ok {
			out = append(out, lv)
		}
	}
	return out
}

// FlowMode reports the estimator mode of a derived register.
func (d *Device) FlowMode(key string) (flow.Mode, bool) {
	e, ok := d.engines[key]
	if !ok {
		return flow.ModeIdle, false
	}
	return e.Mode(), true
}

// ReadRegister fetches and decodes one register without touching the store.
func (d *Device) ReadRegister(ctx context.Context, key string) (any, error) {
	desc, ok := d.catalog.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownRegister, key)
	}
	if !desc.Readable() {
		return nil, fmt.Errorf("%w: %s has no read address", types.ErrNoDecodePath, key)
	}

	data, ok := d.transport.Read(ctx, *desc.ReadAddress)
	if !ok {
		return nil, fmt.Errorf("%w: read %s", types.ErrTransport, desc.ReadAddress)
	}
	return decodeRegister(desc, data)
}

// LoadCache seeds the store with cached values of persistent registers and
// applies cached flags to the flow engines.
func (d *Device) LoadCache(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}

	entries, err := d.cache.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load write-only cache: %w", err)
	}

	seeded := 0
	for key, label := range entries {
		desc, ok := d.catalog.Lookup(key)
		if !ok {
			d.logger.Warn("Ignoring cached value of unknown register", zap.String("register", key))
			continue
		}
		if !desc.Persistent && desc.Kind != types.KindInternalFlag {
			continue
		}

		value, err := normalize(desc, label)
		if err != nil {
			d.logger.Warn("Ignoring unusable cached value",
				zap.String("register", key),
				zap.String("label", label),
				zap.Error(err))
			continue
		}

		d.store.Set(key, value)
		if desc.Kind == types.KindInternalFlag {
			d.applyFlag(key, value.(bool))
		}
		seeded++
	}

	d.logger.Info("Write-only cache loaded", zap.Int("values", seeded))
	return nil
}

// Set writes value to the register named key.
func (d *Device) Set(ctx context.Context, key string, value any) error {
	desc, ok := d.catalog.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownRegister, key)
	}

	if desc.Kind == types.KindInternalFlag {
		return d.setFlag(ctx, desc, value)
	}
	if !desc.Writable() {
		return fmt.Errorf("%w: %s", types.ErrReadOnly, key)
	}

	if group, ok := d.catalog.GroupOf(key); ok {
		return d.setGrouped(ctx, group, desc, value)
	}

	switch desc.Kind {
	case types.KindSwitch:
		on, err := toBool(value)
		if err != nil {
			return err
		}
		addr := *desc.WriteAddress
		if !on {
			addr = *desc.WriteAddressOff
		}
		if !d.transport.Write(ctx, addr, "") {
			return fmt.Errorf("%w: write %s", types.ErrTransport, addr)
		}
		d.store.Set(key, on)
		d.record(ctx, desc, on)
		return nil

	case types.KindButton:
		if !d.transport.Write(ctx, *desc.WriteAddress, "") {
			return fmt.Errorf("%w: write %s", types.ErrTransport, desc.WriteAddress)
		}
		d.logger.Info("Button pressed", zap.String("register", key))
		return nil
	}

	normalized, err := normalize(desc, value)
	if err != nil {
		return err
	}

	payload, err := codec.Encode(desc.Kind, normalized, desc.Divider(), desc.Enum, desc.WriteLength)
	if err != nil {
		return err
	}

	if !d.transport.Write(ctx, *desc.WriteAddress, payload) {
		return fmt.Errorf("%w: write %s", types.ErrTransport, desc.WriteAddress)
	}

	d.store.Set(key, normalized)
	d.record(ctx, desc, normalized)
	return nil
}

// Stop cancels all burst sampling.
func (d *Device) Stop() {
	for _, e := range d.engines {
		e.Stop()
	}
}

func (d *Device) setFlag(ctx context.Context, desc *types.RegisterDescriptor, value any) error {
	on, err := toBool(value)
	if err != nil {
		return err
	}

	d.store.Set(desc.TranslationKey, on)
	d.applyFlag(desc.TranslationKey, on)
	d.record(ctx, desc, on)
	return nil
}

func (d *Device) applyFlag(key string, on bool) {
	for _, e := range d.byFlag[key] {
		e.SetEnabled(on)
	}
}

func (d *Device) setGrouped(ctx context.Context, group *types.GroupDefinition, desc *types.RegisterDescriptor, value any) error {
	lock := d.groupLocks[group.Name]
	lock.Lock()
	defer lock.Unlock()

	cw, err := d.assembler.Build(ctx, group, desc.TranslationKey, value)
	if err != nil {
		return err
	}

	if !d.transport.Write(ctx, group.WriteAddress, cw.Payload) {
		return fmt.Errorf("%w: write %s", types.ErrTransport, group.WriteAddress)
	}

	for _, f := range cw.Fields {
		d.store.Set(f.Key, f.Value)
		if fd, ok := d.catalog.Lookup(f.Key); ok {
			d.record(ctx, fd, f.Value)
		}
	}

	d.logger.Debug("Composite register written",
		zap.String("group", group.Name),
		zap.String("register", desc.TranslationKey),
		zap.String("payload", cw.Payload))
	return nil
}

// record stores persistent values in the cache. A failure here does not undo
// the device write.
func (d *Device) record(ctx context.Context, desc *types.RegisterDescriptor, value any) {
	if !desc.Persistent || d.cache == nil {
		return
	}
	if err := d.cache.Put(ctx, desc.TranslationKey, cacheLabel(value)); err != nil {
		d.logger.Error("Failed to record write-only value",
			zap.String("register", desc.TranslationKey),
			zap.Error(err))
	}
}

func (d *Device) sampler(source string) flow.Sampler {
	return func(ctx context.Context) (float64, error) {
		v, err := d.ReadRegister(ctx, source)
		if err != nil {
			return 0, err
		}
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("%w: %s is not numeric", types.ErrDecode, source)
		}
		return f, nil
	}
}

// feedDerived passes fresh source values from a refresh cycle to the flow engines.
func (d *Device) feedDerived(updated map[string]LiveValue) {
	for source, engines := range d.bySource {
		lv, ok := updated[source]
		if !ok {
			continue
		}
		f, ok := lv.Value.(float64)
		if !ok {
			continue
		}
		for _, e := range engines {
			e.Update(f, lv.UpdatedAt)
		}
	}
}

func decodeRegister(desc *types.RegisterDescriptor, data string) (any, error) {
	raw, err := codec.Slice(data, desc.ReadOffset, desc.ReadLength)
	if err != nil {
		return nil, err
	}
	return codec.Decode(desc.Kind, raw, desc.Enum, desc.Divider())
}
