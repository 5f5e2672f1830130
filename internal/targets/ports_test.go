package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/errors"
)

func TestParsePortRange_Valid(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []uint16
	}{
		{"single port", "22", []uint16{22}},
		{"inclusive range", "20-23", []uint16{20, 21, 22, 23}},
		{"degenerate range", "80-80", []uint16{80}},
		{"list is sorted", "443,22,80", []uint16{22, 80, 443}},
		{"mixed with overlap", "22,80,79-81", []uint16{22, 79, 80, 81}},
		{"whitespace tolerated", " 1 - 3 , 5 ", []uint16{1, 2, 3, 5}},
		{"upper bound", "65534-65535", []uint16{65534, 65535}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePortRange(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Slice())
		})
	}
}

func TestParsePortRange_Empty(t *testing.T) {
	got, err := ParsePortRange("")
	require.NoError(t, err)
	assert.Equal(t, 65535, got.Len())
	assert.Equal(t, uint16(1), got.At(0))
	assert.Equal(t, uint16(65535), got.At(got.Len()-1))
	assert.Equal(t, "1-65535", got.String())
}

func TestParsePortRange_Invalid(t *testing.T) {
	specs := []string{
		"100-",    // missing end
		"-100",    // missing start
		"80-20",   // reversed
		"abc",     // not a number
		"0",       // below range
		"65536",   // above range
		"1-70000", // range end above range
		"22,",     // empty token
		"1-2-3",   // too many bounds
	}

	for _, spec := range specs {
		t.Run(spec, func(t *testing.T) {
			_, err := ParsePortRange(spec)
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
			assert.Equal(t, errors.CodePortRangeInvalid, errors.GetCode(err))
		})
	}
}

func TestPortRange_Accessors(t *testing.T) {
	r, err := NewPortRange(8080, 22, 22, 80)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Contains(80))
	assert.False(t, r.Contains(443))
	assert.Equal(t, "22,80,8080", r.String())

	// Slice hands out a copy
	ports := r.Slice()
	ports[0] = 1
	assert.Equal(t, uint16(22), r.At(0))

	_, err = NewPortRange(0)
	assert.Error(t, err)

	var zero PortRange
	assert.Equal(t, 0, zero.Len())
	assert.Equal(t, "", zero.String())
}

func TestPortRange_StringCollapsesRuns(t *testing.T) {
	r, err := ParsePortRange("1-3,5,7-8")
	require.NoError(t, err)
	assert.Equal(t, "1-3,5,7-8", r.String())
}
