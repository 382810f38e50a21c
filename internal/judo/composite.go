package judo

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenWaterCore/internal/catalog"
	"github.com/KevinKickass/OpenWaterCore/internal/codec"
	"github.com/KevinKickass/OpenWaterCore/internal/storage"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
)

// FieldValue is one resolved member of a composite write.
type FieldValue struct {
	Key   string
	Value any
}

// CompositeWrite is the payload for a group register together with the values it encodes.
type CompositeWrite struct {
	Group   *types.GroupDefinition
	Payload string
	Fields  []FieldValue
}

// Assembler builds the single payload of a register that stores several fields.
// Callers must hold the group lock across Build and the transport write.
type Assembler struct {
	catalog *catalog.Catalog
	store   *Store
	cache   storage.Cache
}

func NewAssembler(cat *catalog.Catalog, store *Store, cache storage.Cache) *Assembler {
	return &Assembler{catalog: cat, store: store, cache: cache}
}

// Assemble returns the hex payload for group with changedKey set to changedValue.
func (a *Assembler) Assemble(ctx context.Context, group *types.GroupDefinition, changedKey string, changedValue any) (string, error) {
	cw, err := a.Build(ctx, group, changedKey, changedValue)
	if err != nil {
		return "", err
	}
	return cw.Payload, nil
}

// Build resolves every field in declared order from the changed value, the live
// store or the write-only cache, and encodes each at its own write width.
func (a *Assembler) Build(ctx context.Context, group *types.GroupDefinition, changedKey string, changedValue any) (*CompositeWrite, error) {
	if !group.Contains(changedKey) {
		return nil, fmt.Errorf("%w: %s is not part of group %s", types.ErrUnknownRegister, changedKey, group.Name)
	}

	var cached map[string]string
	cacheLoaded := false

	var payload strings.Builder
	fields := make([]FieldValue, 0, len(group.Fields))

	for _, key := range group.Fields {
		desc, ok := a.catalog.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownRegister, key)
		}

		var raw any
		found := false

		switch {
		case key == changedKey:
			raw, found = changedValue, true
		default:
			if lv, ok := a.store.Get(key); ok && lv.Valid {
				raw, found = lv.Value, true
			}
		}

		if !found && a.cache != nil {
			if !cacheLoaded {
				m, err := a.cache.GetAll(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to read write-only cache: %w", err)
				}
				cached, cacheLoaded = m, true
			}
			if label, ok := cached[key]; ok {
				raw, found = label, true
			}
		}

		if !found {
			return nil, fmt.Errorf("%w: %s", types.ErrMissingFieldValue, key)
		}

		value, err := normalize(desc, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}

		hex, err := codec.Encode(desc.Kind, value, desc.Divider(), desc.Enum, desc.WriteLength)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}

		payload.WriteString(hex)
		fields = append(fields, FieldValue{Key: key, Value: value})
	}

	return &CompositeWrite{
		Group:   group,
		Payload: payload.String(),
		Fields:  fields,
	}, nil
}
