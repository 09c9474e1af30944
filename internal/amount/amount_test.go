package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringRejectsNegative(t *testing.T) {
	_, err := FromString("-1")
	require.Error(t, err)
}

func TestFromStringRejectsGarbage(t *testing.T) {
	_, err := FromString("not-a-number")
	require.Error(t, err)
}

func TestAddSub(t *testing.T) {
	a, err := FromString("1000")
	require.NoError(t, err)
	b, err := FromString("300")
	require.NoError(t, err)

	assert.Equal(t, "1300", Add(a, b).String())
	assert.Equal(t, "700", Sub(a, b).String())
}

func TestSubClampedUnderflow(t *testing.T) {
	a, err := FromString("10")
	require.NoError(t, err)
	b, err := FromString("15")
	require.NoError(t, err)

	result, ok := SubClamped(a, b)
	assert.False(t, ok)
	assert.True(t, result.IsZero())
}

func TestCmpAndMin(t *testing.T) {
	a, _ := FromString("5")
	b, _ := FromString("9")
	assert.Equal(t, -1, a.Cmp(b))
	assert.True(t, a.LessThan(b))
	assert.Equal(t, "5", Min(a, b).String())
}

func TestZeroIsZero(t *testing.T) {
	assert.True(t, Zero().IsZero())
	assert.Equal(t, "0", Zero().String())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"150000000", 8, "1.50000000"},
		{"1", 8, "0.00000001"},
		{"0", 8, "0.00000000"},
		{"100", 0, "100"},
		{"5", 2, "0.05"},
	}
	for _, tt := range tests {
		a, err := FromString(tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Format(tt.decimals))
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	a, err := FromString("123456789012345678901234567890")
	require.NoError(t, err)

	text, err := a.MarshalText()
	require.NoError(t, err)

	var roundTripped Amount
	require.NoError(t, roundTripped.UnmarshalText(text))
	assert.Equal(t, a.String(), roundTripped.String())
}
