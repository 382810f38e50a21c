package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = `
catalog: {id: test, vendor: test, version: "1"}
identity: {address: "FF00", enum: device_type}
enums:
  device_type:
    - {code: 0x33, label: i_soft_safe_plus}
  mode:
    - {code: 0, label: "off"}
    - {code: 1, label: "on"}
`

func parse(t *testing.T, body string) (*Catalog, error) {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l.Parse([]byte(header + body))
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 24, cat.Len())
	assert.Equal(t, types.Address(0xFF00), cat.IdentityAddress())

	dt, ok := cat.DeviceType(0x33)
	require.True(t, ok)
	assert.Equal(t, "i_soft_safe_plus", dt.Label)
	_, ok = cat.DeviceType(0x01)
	assert.False(t, ok)

	idx, ok := cat.IndexOf("total_water")
	require.True(t, ok)
	assert.Equal(t, 12, idx)

	d, ok := cat.At(idx)
	require.True(t, ok)
	assert.Equal(t, types.Address(0x2800), *d.ReadAddress)
	assert.Equal(t, 1000.0, d.Divider())

	_, ok = cat.At(cat.Len())
	assert.False(t, ok)

	derived := cat.Derived()
	require.Len(t, derived, 1)
	assert.Equal(t, "water_flow_rate", derived[0].TranslationKey)
	assert.Equal(t, "total_water", derived[0].DerivedFrom)

	g, ok := cat.GroupOf("absence_limit_max_water_flow")
	require.True(t, ok)
	assert.Equal(t, types.Address(0x5F00), g.WriteAddress)
	assert.Len(t, g.Fields, 3)

	_, ok = cat.GroupOf("water_hardness")
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(header+`
registers:
  - key: hardness
    read: {address: "5100", offset: 0, length: 2}
    write: {address: "3000", offset: 0, length: 1}
    kind: number
    access: read_write
`), 0644))

	l, err := NewLoader()
	require.NoError(t, err)
	cat, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())

	_, err = l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "schema rejects unknown kind",
			body: `
registers:
  - {key: a, kind: float, access: read_only, read: {address: "0100", offset: 0, length: 2}}
`,
			want: "schema validation failed",
		},
		{
			name: "duplicate key",
			body: `
registers:
  - {key: a, kind: number, access: read_only, read: {address: "0100", offset: 0, length: 2}}
  - {key: a, kind: number, access: read_only, read: {address: "0200", offset: 0, length: 2}}
`,
			want: "duplicate translation key",
		},
		{
			name: "number wider than 8 bytes",
			body: `
registers:
  - {key: a, kind: number, access: read_only, read: {address: "0100", offset: 0, length: 9}}
`,
			want: "out of range",
		},
		{
			name: "status without enum",
			body: `
registers:
  - {key: a, kind: status, access: read_only, read: {address: "0100", offset: 0, length: 1}}
`,
			want: "enum table",
		},
		{
			name: "switch without off address",
			body: `
registers:
  - {key: a, kind: switch, access: write_only, write: {address: "5200", offset: 0, length: 0}}
`,
			want: "address_off",
		},
		{
			name: "derived from a text register",
			body: `
registers:
  - {key: t, kind: text, access: read_only, read: {address: "5800", offset: 0, length: 16}}
  - {key: rate, kind: internal_derived, access: internal, derived_from: t}
`,
			want: "must name a number register",
		},
		{
			name: "group field without write width",
			body: `
registers:
  - {key: a, kind: number, access: read_only, read: {address: "0100", offset: 0, length: 2}}
groups:
  - {name: g, write_address: "5F00", fields: [a]}
`,
			want: "has no write width",
		},
		{
			name: "field in two groups",
			body: `
registers:
  - {key: a, kind: number, access: write_only, write: {address: "5F00", offset: 0, length: 2}}
groups:
  - {name: g1, write_address: "5F00", fields: [a]}
  - {name: g2, write_address: "6000", fields: [a]}
`,
			want: "already belongs",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEnumTable(t *testing.T) {
	cat, err := parse(t, `
registers:
  - {key: m, kind: status, enum: mode, access: read_write, read: {address: "0100", offset: 0, length: 1}, write: {address: "0200", offset: 0, length: 1}}
`)
	require.NoError(t, err)

	d, ok := cat.Lookup("m")
	require.True(t, ok)
	assert.Equal(t, "on", d.Enum.Label(1))
	code, ok := d.Enum.Code("off")
	require.True(t, ok)
	assert.Equal(t, 0, code)
	_, ok = d.Enum.Code("maybe")
	assert.False(t, ok)
	assert.Equal(t, []string{"off", "on"}, d.Enum.Labels())
}
