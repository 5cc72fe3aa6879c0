package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allFrameTypes() []FrameType {
	return []FrameType{
		Hello(),
		Data(Context{}),
		Control(Context{}),
		Signal(Context{}),
		Data(Context{UsePersistentHeader: true}),
		Control(Context{UsePersistentHeader: true}),
		Signal(Context{UsePersistentHeader: true}),
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	for _, ft := range allFrameTypes() {
		for _, length := range []int{0, 1, 5, 4095, math.MaxUint32} {
			h := Header{Type: ft, Length: length}
			buf, err := h.Encode()
			require.NoError(t, err)
			require.Len(t, buf, HeaderSize)
			dec, err := DecodeHeader(buf)
			require.NoError(t, err)
			assert.Equal(t, h, dec, "type %v length %d", ft, length)
		}
	}
}

func TestHeaderWireLayout(t *testing.T) {
	// length in the low 32 bits, type code in the high 32, little-endian.
	buf, err := Header{Type: Data(Context{UsePersistentHeader: true}), Length: 0x01020304}.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 4, 0, 0, 0}, buf)
}

func TestHeaderTypeCodes(t *testing.T) {
	want := map[uint32]FrameType{
		0: Hello(),
		1: Data(Context{}),
		2: Control(Context{}),
		3: Signal(Context{}),
		4: Data(Context{UsePersistentHeader: true}),
		5: Control(Context{UsePersistentHeader: true}),
		6: Signal(Context{UsePersistentHeader: true}),
	}
	for code, ft := range want {
		got, err := ft.code()
		require.NoError(t, err)
		assert.Equal(t, code, got)
		dec, err := typeFromCode(code)
		require.NoError(t, err)
		assert.Equal(t, ft, dec)
	}
}

func TestHeaderEncodeRejectsNonTableTypes(t *testing.T) {
	// Hello with a context flag and out-of-range kinds have no wire code.
	for _, ft := range []FrameType{
		{Kind: KindHello, Context: Context{UsePersistentHeader: true}},
		{Kind: KindSignal + 1},
		{Kind: 200, Context: Context{UsePersistentHeader: true}},
	} {
		_, err := Header{Type: ft, Length: 1}.Encode()
		require.ErrorIs(t, err, ErrUnknownFrameType, "type %#v", ft)
	}
}

func TestHeaderEncodeTooLong(t *testing.T) {
	_, err := Header{Type: Hello(), Length: math.MaxUint32}.Encode()
	require.NoError(t, err)
	_, err = Header{Type: Hello(), Length: math.MaxUint32 + 1}.Encode()
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestHeaderDecodeUnknownCode(t *testing.T) {
	for _, code := range []uint32{7, 8, 200, math.MaxUint32} {
		buf := make([]byte, HeaderSize)
		binary.LittleEndian.PutUint64(buf, uint64(code)<<32)
		_, err := DecodeHeader(buf)
		require.ErrorIs(t, err, ErrUnknownFrameType)
		assert.Contains(t, err.Error(), fmt.Sprintf("%d", code))
	}
}

func TestHeaderDecodeShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "hello", Hello().String())
	assert.Equal(t, "data", Data(Context{}).String())
	assert.Equal(t, "signal+phdr", Signal(Context{UsePersistentHeader: true}).String())
}
