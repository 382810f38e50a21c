package catalog

import "github.com/KevinKickass/OpenWaterCore/internal/types"

// File is the on-disk shape of a register catalog.
type File struct {
	Catalog   Info                         `yaml:"catalog" json:"catalog"`
	Identity  Identity                     `yaml:"identity" json:"identity"`
	Enums     map[string][]types.EnumEntry `yaml:"enums" json:"enums,omitempty"`
	Registers []RegisterEntry              `yaml:"registers" json:"registers"`
	Groups    []GroupEntry                 `yaml:"groups" json:"groups,omitempty"`
}

type Info struct {
	ID      string `yaml:"id" json:"id"`
	Vendor  string `yaml:"vendor" json:"vendor"`
	Version string `yaml:"version" json:"version"`
}

type Identity struct {
	Address string `yaml:"address" json:"address"`
	Enum    string `yaml:"enum" json:"enum"`
}

type Window struct {
	Address    string `yaml:"address" json:"address"`
	AddressOff string `yaml:"address_off" json:"address_off,omitempty"`
	Offset     int    `yaml:"offset" json:"offset"`
	Length     int    `yaml:"length" json:"length"`
}

type RegisterEntry struct {
	Key          string  `yaml:"key" json:"key"`
	Read         *Window `yaml:"read" json:"read,omitempty"`
	Write        *Window `yaml:"write" json:"write,omitempty"`
	Kind         string  `yaml:"kind" json:"kind"`
	ScaleDivider float64 `yaml:"scale_divider" json:"scale_divider,omitempty"`
	Enum         string  `yaml:"enum" json:"enum,omitempty"`
	Access       string  `yaml:"access" json:"access"`
	Persistent   bool    `yaml:"persistent" json:"persistent,omitempty"`
	DerivedFrom  string  `yaml:"derived_from" json:"derived_from,omitempty"`
	EnabledBy    string  `yaml:"enabled_by" json:"enabled_by,omitempty"`
	Unit         string  `yaml:"unit" json:"unit,omitempty"`
	Device       string  `yaml:"device" json:"device,omitempty"`
}

type GroupEntry struct {
	Name         string   `yaml:"name" json:"name"`
	WriteAddress string   `yaml:"write_address" json:"write_address"`
	Fields       []string `yaml:"fields" json:"fields"`
}
