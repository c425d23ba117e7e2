package bridge

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   any
		want any
	}{
		{"i32 zero", KindInt32, int32(0), int32(0)},
		{"i32 min", KindInt32, int32(math.MinInt32), int32(math.MinInt32)},
		{"i32 max", KindInt32, int32(math.MaxInt32), int32(math.MaxInt32)},
		{"i32 from int", KindInt32, -7, int32(-7)},
		{"i32 from uint32", KindInt32, uint32(math.MaxUint32), int32(-1)},
		{"i64 min", KindInt64, int64(math.MinInt64), int64(math.MinInt64)},
		{"i64 max", KindInt64, int64(math.MaxInt64), int64(math.MaxInt64)},
		{"i64 from big", KindInt64, big.NewInt(-42), int64(-42)},
		{"f32", KindFloat32, float32(1.5), float32(1.5)},
		{"f32 from f64", KindFloat32, 0.25, float32(0.25)},
		{"f32 inf", KindFloat32, float32(math.Inf(-1)), float32(math.Inf(-1))},
		{"f64", KindFloat64, math.Pi, math.Pi},
		{"f64 smallest", KindFloat64, math.SmallestNonzeroFloat64, math.SmallestNonzeroFloat64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ToGuest(tt.in, tt.kind)
			require.NoError(t, err)

			got, err := FromGuest(raw, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			buf := make([]byte, 8)
			PutScalar(buf, raw, tt.kind)
			assert.Equal(t, raw, Scalar(buf, tt.kind))
		})
	}
}

func TestToGuestNaN(t *testing.T) {
	raw, err := ToGuest(math.NaN(), KindFloat64)
	require.NoError(t, err)

	got, err := FromGuest(raw, KindFloat64)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.(float64)))
}

func TestToGuestRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 64)

	tests := []struct {
		name string
		kind Kind
		in   any
	}{
		{"i32 above max", KindInt32, int64(math.MaxInt32) + 1},
		{"i32 below min", KindInt32, int64(math.MinInt32) - 1},
		{"i32 unsigned", KindInt32, uint64(math.MaxUint32) + 1},
		{"i32 big", KindInt32, big.NewInt(1 << 40)},
		{"i64 big", KindInt64, tooBig},
		{"i64 negative big", KindInt64, new(big.Int).Neg(tooBig)},
		{"f32 overflow", KindFloat32, math.MaxFloat64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToGuest(tt.in, tt.kind)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRange), "got %v", err)
		})
	}
}

func TestToGuestMismatch(t *testing.T) {
	_, err := ToGuest("5", KindInt32)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = ToGuest(int32(5), KindFloat64)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = ToGuest(int32(5), KindString)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestLittleEndian(t *testing.T) {
	raw, err := ToGuest(int32(0x01020304), KindInt32)
	require.NoError(t, err)

	buf := make([]byte, 4)
	PutScalar(buf, raw, KindInt32)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf)
}

func TestErrorFormat(t *testing.T) {
	err := annotate(newError(CodeRange, StepMarshal, "300 does not fit"), StepInvoke, "paint", "arg0", "color")
	assert.Equal(t, "[marshal] range in 'paint' at arg0.color: 300 does not fit", err.Error())

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeRange, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
