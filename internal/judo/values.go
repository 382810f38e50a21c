package judo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenWaterCore/internal/codec"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
)

// normalize converts an incoming value to the shape Decode would produce for
// the register: float64 for numbers, label strings for status, bool for flags
// and switches.
func normalize(desc *types.RegisterDescriptor, value any) (any, error) {
	switch desc.Kind {
	case types.KindNumber:
		return codec.ToFloat(value)

	case types.KindStatus:
		label, ok := value.(string)
		if !ok {
			// numeric codes are accepted as well
			f, err := codec.ToFloat(value)
			if err != nil {
				return nil, fmt.Errorf("%w: expected label, got %T", types.ErrInvalidLabel, value)
			}
			label = desc.Enum.Label(int(f))
		}
		if _, ok := desc.Enum.Code(label); !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidLabel, label)
		}
		return label, nil

	case types.KindText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected text, got %T", types.ErrValueOutOfRange, value)
		}
		return s, nil

	case types.KindSwitch, types.KindInternalFlag:
		return toBool(value)
	}

	return value, nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not on/off", types.ErrValueOutOfRange, v)
	}

	f, err := codec.ToFloat(value)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// cacheLabel renders a normalized value the way the write-only cache stores it.
func cacheLabel(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "on"
		}
		return "off"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	}
	return fmt.Sprint(value)
}
