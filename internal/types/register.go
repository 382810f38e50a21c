package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 16-bit register address of the connectivity module.
type Address uint16

// String renders the address the way the REST endpoint expects it (4 hex digits).
func (a Address) String() string {
	return fmt.Sprintf("%04X", uint16(a))
}

// ParseAddress parses "5F00" style addresses.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}

type CodecKind string

const (
	KindNumber          CodecKind = "number"
	KindStatus          CodecKind = "status"
	KindText            CodecKind = "text"
	KindTimestamp       CodecKind = "timestamp"
	KindVersion         CodecKind = "version"
	KindSwitch          CodecKind = "switch"
	KindButton          CodecKind = "button"
	KindInternalDerived CodecKind = "internal_derived"
	KindInternalFlag    CodecKind = "internal_flag"
)

// IsInternal reports whether values of this kind never travel over the wire.
func (k CodecKind) IsInternal() bool {
	return k == KindInternalDerived || k == KindInternalFlag
}

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeWriteOnly AccessType = "write_only"
	AccessTypeReadWrite AccessType = "read_write"
	AccessTypeInternal  AccessType = "internal"
)

// EnumFailureCode is returned by EnumTable.Code for labels that are not mapped.
const EnumFailureCode = -1

type EnumEntry struct {
	Code  int    `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
}

// EnumTable is an ordered code/label list with lookups in both directions.
type EnumTable []EnumEntry

// Label resolves a code. Unmapped codes yield "unknown<code>".
func (t EnumTable) Label(code int) string {
	for _, e := range t {
		if e.Code == code {
			return e.Label
		}
	}
	return fmt.Sprintf("unknown<%d>", code)
}

// Code resolves a label, returning EnumFailureCode and false if it is not mapped.
func (t EnumTable) Code(label string) (int, bool) {
	for _, e := range t {
		if e.Label == label {
			return e.Code, true
		}
	}
	return EnumFailureCode, false
}

// Labels returns the labels in table order.
func (t EnumTable) Labels() []string {
	labels := make([]string, 0, len(t))
	for _, e := range t {
		labels = append(labels, e.Label)
	}
	return labels
}

// RegisterDescriptor describes one addressable field of the appliance.
type RegisterDescriptor struct {
	TranslationKey  string     `json:"translation_key"`
	ReadAddress     *Address   `json:"read_address,omitempty"`
	ReadOffset      int        `json:"read_offset"`
	ReadLength      int        `json:"read_length"`
	WriteAddress    *Address   `json:"write_address,omitempty"`
	WriteAddressOff *Address   `json:"write_address_off,omitempty"`
	WriteOffset     int        `json:"write_offset"`
	WriteLength     int        `json:"write_length"`
	Kind            CodecKind  `json:"kind"`
	ScaleDivider    float64    `json:"scale_divider"`
	Enum            EnumTable  `json:"enum,omitempty"`
	Access          AccessType `json:"access"`
	Persistent      bool       `json:"persistent,omitempty"`
	DerivedFrom     string     `json:"derived_from,omitempty"`
	EnabledBy       string     `json:"enabled_by,omitempty"`
	Unit            string     `json:"unit,omitempty"`
	Device          string     `json:"device,omitempty"`
}

// Readable reports whether the coordinator fetches this register from the device.
func (d *RegisterDescriptor) Readable() bool {
	if d.Kind.IsInternal() || d.ReadAddress == nil {
		return false
	}
	return d.Access == AccessTypeReadOnly || d.Access == AccessTypeReadWrite
}

// Writable reports whether Set may be called for this register.
func (d *RegisterDescriptor) Writable() bool {
	switch d.Access {
	case AccessTypeWriteOnly, AccessTypeReadWrite:
		return true
	case AccessTypeInternal:
		return d.Kind == KindInternalFlag
	}
	return false
}

// Divider returns the scale divider, treating zero as 1.
func (d *RegisterDescriptor) Divider() float64 {
	if d.ScaleDivider == 0 {
		return 1
	}
	return d.ScaleDivider
}

// GroupDefinition is a settings group that is physically written as one register.
type GroupDefinition struct {
	Name         string   `json:"name"`
	WriteAddress Address  `json:"write_address"`
	Fields       []string `json:"fields"`
}

// Contains reports whether key is one of the group's fields.
func (g *GroupDefinition) Contains(key string) bool {
	for _, f := range g.Fields {
		if f == key {
			return true
		}
	}
	return false
}

// DeviceType is one entry of the static identity table.
type DeviceType struct {
	Code  uint8  `json:"code"`
	Label string `json:"label"`
}

func (d DeviceType) String() string {
	return fmt.Sprintf("%s (0x%02X)", d.Label, d.Code)
}
