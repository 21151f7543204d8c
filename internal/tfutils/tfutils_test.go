package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1m", want: time.Minute},
		{in: "12h", want: 12 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "7h", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeframe(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlignsToDay(t *testing.T) {
	for _, tf := range GetSupportedTimeframes() {
		assert.True(t, AlignsToDay(tf), tf)
	}
	assert.False(t, AlignsToDay("bogus"))
}
