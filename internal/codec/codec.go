// Package codec maps raw register bytes to typed values and back.
//
// Numeric and enum fields are little-endian on the wire; text and timestamps are
// big-endian. Payloads travel as hex strings in the REST path or the JSON "data" field.
package codec

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
)

// Slice hex-decodes a response body and cuts out the declared window.
// A body shorter than offset+length is a decode failure, never a partial value.
func Slice(data string, offset, length int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed hex: %v", types.ErrDecode, err)
	}
	if offset < 0 || length < 0 || offset+length > len(raw) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, got %d", types.ErrDecode, length, offset, len(raw))
	}
	return raw[offset : offset+length], nil
}

// Decode converts raw bytes into the value type of kind:
// float64 (number), string (status, text, version) or time.Time (timestamp).
func Decode(kind types.CodecKind, raw []byte, enum types.EnumTable, divider float64) (any, error) {
	if divider == 0 {
		divider = 1
	}

	switch kind {
	case types.KindNumber:
		v, err := littleEndian(raw)
		if err != nil {
			return nil, err
		}
		return float64(v) / divider, nil

	case types.KindStatus:
		v, err := littleEndian(raw)
		if err != nil {
			return nil, err
		}
		return enum.Label(int(v)), nil

	case types.KindText:
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", types.ErrDecode)
		}
		return strings.TrimRight(string(raw), "\x00 "), nil

	case types.KindTimestamp:
		v, err := bigEndian(raw)
		if err != nil {
			return nil, err
		}
		return time.Unix(int64(v), 0).UTC(), nil

	case types.KindVersion:
		if len(raw) != 3 {
			return nil, fmt.Errorf("%w: version needs 3 bytes, got %d", types.ErrDecode, len(raw))
		}
		return fmt.Sprintf("%d.%02d%c", raw[0], raw[1], raw[2]), nil
	}

	return nil, fmt.Errorf("%w: %s", types.ErrNoDecodePath, kind)
}

// Encode renders value as a hex payload of exactly width bytes.
// Switches and buttons carry no payload; the endpoint alone selects the action.
func Encode(kind types.CodecKind, value any, divider float64, enum types.EnumTable, width int) (string, error) {
	if divider == 0 {
		divider = 1
	}

	switch kind {
	case types.KindNumber:
		f, err := ToFloat(value)
		if err != nil {
			return "", err
		}
		scaled := math.Round(f * divider)
		if scaled < 0 || scaled > maxUnsigned(width) {
			return "", fmt.Errorf("%w: %v does not fit in %d bytes", types.ErrValueOutOfRange, value, width)
		}
		return putLittleEndian(uint64(scaled), width), nil

	case types.KindStatus:
		label, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: expected label, got %T", types.ErrInvalidLabel, value)
		}
		code, ok := enum.Code(label)
		if !ok {
			return "", fmt.Errorf("%w: %q", types.ErrInvalidLabel, label)
		}
		if float64(code) > maxUnsigned(width) {
			return "", fmt.Errorf("%w: code %d does not fit in %d bytes", types.ErrValueOutOfRange, code, width)
		}
		return putLittleEndian(uint64(code), width), nil

	case types.KindText:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: expected text, got %T", types.ErrValueOutOfRange, value)
		}
		b := []byte(s)
		if width > 0 {
			if len(b) > width {
				return "", fmt.Errorf("%w: text longer than %d bytes", types.ErrValueOutOfRange, width)
			}
			padded := make([]byte, width)
			copy(padded, b)
			b = padded
		}
		return hex.EncodeToString(b), nil

	case types.KindSwitch, types.KindButton:
		return "", nil
	}

	return "", fmt.Errorf("codec kind %s cannot be encoded", kind)
}

// ToFloat accepts the numeric shapes that arrive from JSON, gRPC structs, MQTT
// payloads and the write-only cache.
func ToFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", types.ErrValueOutOfRange, v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: unsupported value type %T", types.ErrValueOutOfRange, value)
}

func littleEndian(raw []byte) (uint64, error) {
	if len(raw) == 0 || len(raw) > 8 {
		return 0, fmt.Errorf("%w: integer width %d", types.ErrDecode, len(raw))
	}
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v, nil
}

func bigEndian(raw []byte) (uint64, error) {
	if len(raw) == 0 || len(raw) > 8 {
		return 0, fmt.Errorf("%w: integer width %d", types.ErrDecode, len(raw))
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func putLittleEndian(v uint64, width int) string {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return hex.EncodeToString(buf)
}

func maxUnsigned(width int) float64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return float64(uint64(1)<<(8*width) - 1)
}
