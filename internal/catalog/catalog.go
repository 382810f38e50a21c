// Package catalog holds the static register map of the appliance: every addressable
// field, the settings groups that share one write register, and the device identity table.
package catalog

import (
	"fmt"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
)

// Catalog is immutable after Build.
type Catalog struct {
	info            Info
	identityAddress types.Address
	registers       []types.RegisterDescriptor
	index           map[string]int
	groups          []types.GroupDefinition
	groupOf         map[string]int
	deviceTypes     map[uint8]types.DeviceType
}

func (c *Catalog) Info() Info {
	return c.info
}

// IdentityAddress is the register holding the 1-byte device type code.
func (c *Catalog) IdentityAddress() types.Address {
	return c.identityAddress
}

// Registers returns the descriptors in catalog order. Callers must not modify them.
func (c *Catalog) Registers() []types.RegisterDescriptor {
	return c.registers
}

func (c *Catalog) Len() int {
	return len(c.registers)
}

// At returns the descriptor at position i.
func (c *Catalog) At(i int) (*types.RegisterDescriptor, bool) {
	if i < 0 || i >= len(c.registers) {
		return nil, false
	}
	return &c.registers[i], true
}

func (c *Catalog) Lookup(key string) (*types.RegisterDescriptor, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return &c.registers[i], true
}

// IndexOf returns the catalog position of key.
func (c *Catalog) IndexOf(key string) (int, bool) {
	i, ok := c.index[key]
	return i, ok
}

func (c *Catalog) Groups() []types.GroupDefinition {
	return c.groups
}

// GroupOf returns the composite group a register belongs to, if any.
func (c *Catalog) GroupOf(key string) (*types.GroupDefinition, bool) {
	i, ok := c.groupOf[key]
	if !ok {
		return nil, false
	}
	return &c.groups[i], true
}

// DeviceType resolves an identity code.
func (c *Catalog) DeviceType(code uint8) (types.DeviceType, bool) {
	dt, ok := c.deviceTypes[code]
	return dt, ok
}

// Derived returns all internal derived registers.
func (c *Catalog) Derived() []types.RegisterDescriptor {
	var out []types.RegisterDescriptor
	for _, r := range c.registers {
		if r.Kind == types.KindInternalDerived {
			out = append(out, r)
		}
	}
	return out
}

// Build converts a decoded file into a Catalog and enforces the invariants the
// schema cannot express.
func Build(f *File) (*Catalog, error) {
	identityAddr, err := types.ParseAddress(f.Identity.Address)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	identityEnum, ok := f.Enums[f.Identity.Enum]
	if !ok {
		return nil, fmt.Errorf("identity references unknown enum %q", f.Identity.Enum)
	}

	c := &Catalog{
		info:            f.Catalog,
		identityAddress: identityAddr,
		registers:       make([]types.RegisterDescriptor, 0, len(f.Registers)),
		index:           make(map[string]int, len(f.Registers)),
		groupOf:         make(map[string]int),
		deviceTypes:     make(map[uint8]types.DeviceType, len(identityEnum)),
	}

	for _, e := range identityEnum {
		if e.Code < 0 || e.Code > 0xFF {
			return nil, fmt.Errorf("device type code %d does not fit in one byte", e.Code)
		}
		c.deviceTypes[uint8(e.Code)] = types.DeviceType{Code: uint8(e.Code), Label: e.Label}
	}

	for _, entry := range f.Registers {
		desc, err := buildRegister(entry, f.Enums)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", entry.Key, err)
		}
		if _, dup := c.index[desc.TranslationKey]; dup {
			return nil, fmt.Errorf("duplicate translation key %q", desc.TranslationKey)
		}
		c.index[desc.TranslationKey] = len(c.registers)
		c.registers = append(c.registers, desc)
	}

	for _, r := range c.registers {
		if r.Kind != types.KindInternalDerived {
			continue
		}
		src, ok := c.Lookup(r.DerivedFrom)
		if !ok || src.Kind != types.KindNumber {
			return nil, fmt.Errorf("register %s: derived_from %q must name a number register", r.TranslationKey, r.DerivedFrom)
		}
		if r.EnabledBy != "" {
			flag, ok := c.Lookup(r.EnabledBy)
			if !ok || flag.Kind != types.KindInternalFlag {
				return nil, fmt.Errorf("register %s: enabled_by %q must name an internal flag", r.TranslationKey, r.EnabledBy)
			}
		}
	}

	for gi, g := range f.Groups {
		addr, err := types.ParseAddress(g.WriteAddress)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		for _, key := range g.Fields {
			r, ok := c.Lookup(key)
			if !ok {
				return nil, fmt.Errorf("group %s: unknown field %q", g.Name, key)
			}
			if r.Kind != types.KindNumber && r.Kind != types.KindStatus {
				return nil, fmt.Errorf("group %s: field %s must be number or status", g.Name, key)
			}
			if !r.Writable() || r.WriteLength == 0 {
				return nil, fmt.Errorf("group %s: field %s has no write width", g.Name, key)
			}
			if _, taken := c.groupOf[key]; taken {
				return nil, fmt.Errorf("group %s: field %s already belongs to another group", g.Name, key)
			}
			c.groupOf[key] = gi
		}
		c.groups = append(c.groups, types.GroupDefinition{
			Name:         g.Name,
			WriteAddress: addr,
			Fields:       append([]string(nil), g.Fields...),
		})
	}

	return c, nil
}

func buildRegister(e RegisterEntry, enums map[string][]types.EnumEntry) (types.RegisterDescriptor, error) {
	d := types.RegisterDescriptor{
		TranslationKey: e.Key,
		Kind:           types.CodecKind(e.Kind),
		ScaleDivider:   e.ScaleDivider,
		Access:         types.AccessType(e.Access),
		Persistent:     e.Persistent,
		DerivedFrom:    e.DerivedFrom,
		EnabledBy:      e.EnabledBy,
		Unit:           e.Unit,
		Device:         e.Device,
	}

	if e.Enum != "" {
		table, ok := enums[e.Enum]
		if !ok {
			return d, fmt.Errorf("unknown enum %q", e.Enum)
		}
		d.Enum = types.EnumTable(table)
	}
	if d.Kind == types.KindStatus && len(d.Enum) == 0 {
		return d, fmt.Errorf("status register needs an enum table")
	}

	if e.Read != nil {
		addr, err := types.ParseAddress(e.Read.Address)
		if err != nil {
			return d, err
		}
		d.ReadAddress = &addr
		d.ReadOffset = e.Read.Offset
		d.ReadLength = e.Read.Length
	}
	if e.Write != nil {
		addr, err := types.ParseAddress(e.Write.Address)
		if err != nil {
			return d, err
		}
		d.WriteAddress = &addr
		d.WriteOffset = e.Write.Offset
		d.WriteLength = e.Write.Length
		if e.Write.AddressOff != "" {
			off, err := types.ParseAddress(e.Write.AddressOff)
			if err != nil {
				return d, err
			}
			d.WriteAddressOff = &off
		}
	}

	if err := checkWidths(&d); err != nil {
		return d, err
	}
	return d, checkAccess(&d)
}

func checkWidths(d *types.RegisterDescriptor) error {
	switch d.Kind {
	case types.KindSwitch, types.KindButton:
		if d.ReadAddress != nil || d.ReadLength != 0 {
			return fmt.Errorf("%s registers have no read path", d.Kind)
		}
		if d.WriteAddress == nil {
			return fmt.Errorf("%s register needs a write address", d.Kind)
		}
		if d.Kind == types.KindSwitch && d.WriteAddressOff == nil {
			return fmt.Errorf("switch register needs address_off")
		}
	case types.KindNumber, types.KindStatus, types.KindTimestamp:
		if d.ReadAddress != nil && (d.ReadLength < 1 || d.ReadLength > 8) {
			return fmt.Errorf("read length %d out of range 1..8", d.ReadLength)
		}
		if d.WriteAddress != nil && d.Kind != types.KindTimestamp && (d.WriteLength < 1 || d.WriteLength > 8) {
			return fmt.Errorf("write length %d out of range 1..8", d.WriteLength)
		}
	case types.KindVersion:
		if d.ReadLength != 3 {
			return fmt.Errorf("version registers are exactly 3 bytes, got %d", d.ReadLength)
		}
	case types.KindText:
		if d.ReadAddress != nil && d.ReadLength < 1 {
			return fmt.Errorf("text register needs a read length")
		}
	case types.KindInternalDerived, types.KindInternalFlag:
		if d.ReadAddress != nil || d.WriteAddress != nil {
			return fmt.Errorf("internal registers have no addresses")
		}
	default:
		return fmt.Errorf("unknown codec kind %q", d.Kind)
	}
	return nil
}

func checkAccess(d *types.RegisterDescriptor) error {
	switch d.Access {
	case types.AccessTypeReadOnly:
		if d.ReadAddress == nil {
			return fmt.Errorf("read_only register without read address")
		}
	case types.AccessTypeWriteOnly:
		if d.WriteAddress == nil {
			return fmt.Errorf("write_only register without write address")
		}
	case types.AccessTypeReadWrite:
		if d.ReadAddress == nil || d.WriteAddress == nil {
			return fmt.Errorf("read_write register needs both addresses")
		}
	case types.AccessTypeInternal:
		if !d.Kind.IsInternal() {
			return fmt.Errorf("internal access is reserved for internal kinds")
		}
	default:
		return fmt.Errorf("unknown access %q", d.Access)
	}
	if d.Kind.IsInternal() && d.Access != types.AccessTypeInternal {
		return fmt.Errorf("internal kinds must use internal access")
	}
	if d.Kind == types.KindInternalDerived && d.DerivedFrom == "" {
		return fmt.Errorf("derived register needs derived_from")
	}
	return nil
}
