package bridge

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/tetratelabs/wazero/api"
)

// ToGuest converts a host scalar into the runtime's uint64 stack encoding.
//
// Integer kinds accept any Go integer type and *big.Int. Signed values must fit
// the signed range of the target width, unsigned values the unsigned range;
// anything else fails with a range error. Float32 accepts float64 values whose
// magnitude fits a float32 (infinities and NaN pass through).
func ToGuest(v any, k Kind) (uint64, error) {
	switch k {
	case KindInt32:
		s, u, signed, err := integer(v, k)
		if err != nil {
			return 0, err
		}
		if signed {
			if s < math.MinInt32 || s > math.MaxInt32 {
				return 0, newError(CodeRange, StepMarshal, "%d does not fit in i32", s)
			}
			return api.EncodeI32(int32(s)), nil
		}
		if u > math.MaxUint32 {
			return 0, newError(CodeRange, StepMarshal, "%d does not fit in i32", u)
		}
		return uint64(uint32(u)), nil

	case KindInt64:
		s, u, signed, err := integer(v, k)
		if err != nil {
			return 0, err
		}
		if signed {
			return api.EncodeI64(s), nil
		}
		return u, nil

	case KindFloat32:
		switch f := v.(type) {
		case float32:
			return api.EncodeF32(f), nil
		case float64:
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return 0, newError(CodeRange, StepMarshal, "%g does not fit in f32", f)
			}
			return api.EncodeF32(float32(f)), nil
		}

	case KindFloat64:
		switch f := v.(type) {
		case float64:
			return api.EncodeF64(f), nil
		case float32:
			return api.EncodeF64(float64(f)), nil
		}

	default:
		return 0, newError(CodeSignatureMismatch, StepMarshal, "%s is not a scalar kind", k)
	}
	return 0, mismatch(v, Type{Kind: k})
}

// FromGuest converts a raw stack value back into its Go representation:
// int32, int64, float32 or float64.
func FromGuest(raw uint64, k Kind) (any, error) {
	switch k {
	case KindInt32:
		return int32(uint32(raw)), nil
	case KindInt64:
		return int64(raw), nil
	case KindFloat32:
		return api.DecodeF32(raw), nil
	case KindFloat64:
		return api.DecodeF64(raw), nil
	default:
		return nil, newError(CodeSignatureMismatch, StepUnmarshal, "%s is not a scalar kind", k)
	}
}

// PutScalar stores raw into buf in guest (little-endian) byte order.
func PutScalar(buf []byte, raw uint64, k Kind) {
	switch k {
	case KindInt64, KindFloat64:
		binary.LittleEndian.PutUint64(buf, raw)
	default:
		binary.LittleEndian.PutUint32(buf, uint32(raw))
	}
}

// Scalar loads a raw value of kind k from buf.
func Scalar(buf []byte, k Kind) uint64 {
	switch k {
	case KindInt64, KindFloat64:
		return binary.LittleEndian.Uint64(buf)
	default:
		return uint64(binary.LittleEndian.Uint32(buf))
	}
}

// integer normalizes a Go integer into either a signed or an unsigned 64-bit
// value.
func integer(v any, k Kind) (s int64, u uint64, signed bool, err error) {
	switch n := v.(type) {
	case int:
		return int64(n), 0, true, nil
	case int8:
		return int64(n), 0, true, nil
	case int16:
		return int64(n), 0, true, nil
	case int32:
		return int64(n), 0, true, nil
	case int64:
		return n, 0, true, nil
	case uint:
		return 0, uint64(n), false, nil
	case uint8:
		return 0, uint64(n), false, nil
	case uint16:
		return 0, uint64(n), false, nil
	case uint32:
		return 0, uint64(n), false, nil
	case uint64:
		return 0, n, false, nil
	case *big.Int:
		if n == nil {
			break
		}
		if n.IsInt64() {
			return n.Int64(), 0, true, nil
		}
		if n.IsUint64() {
			return 0, n.Uint64(), false, nil
		}
		return 0, 0, false, newError(CodeRange, StepMarshal, "%s does not fit in %s", n.String(), k)
	}
	return 0, 0, false, mismatch(v, Type{Kind: k})
}

func mismatch(v any, t Type) *Error {
	return newError(CodeSignatureMismatch, StepMarshal, "cannot pass %T as %s", v, t)
}
