package duration

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "go duration", in: "12h", want: 12 * time.Hour},
		{name: "minutes", in: "15m", want: 15 * time.Minute},
		{name: "days", in: "2d", want: 48 * time.Hour},
		{name: "fractional days", in: "0.5d", want: 12 * time.Hour},
		{name: "weeks", in: "1w", want: 7 * 24 * time.Hour},
		{name: "off", in: "off", want: Off},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2d", Format(48*time.Hour))
	assert.Equal(t, "1w", Format(7*24*time.Hour))
	assert.Equal(t, "12h0m0s", Format(12*time.Hour))
	assert.Equal(t, "off", Format(Off))
}

func TestVar(t *testing.T) {
	var d time.Duration
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Var(fs, &d, "delay", time.Hour, "delay")
	assert.Equal(t, time.Hour, d)

	require.NoError(t, fs.Parse([]string{"--delay", "1d"}))
	assert.Equal(t, 24*time.Hour, d)
	assert.Equal(t, "1d", fs.Lookup("delay").Value.String())
}
