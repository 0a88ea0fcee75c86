package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pulsetrack/internal/collector"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		name string
		in   collector.Input
	}{
		{"mousemove 10 20", collector.InputMouseMove, collector.Input{X: 10, Y: 20}},
		{"click 1.5 2 right", collector.InputClick, collector.Input{X: 1.5, Y: 2, Button: "right"}},
		{"click 3 4", collector.InputClick, collector.Input{X: 3, Y: 4, Button: "left"}},
		{"scroll 0 480", collector.InputScroll, collector.Input{ScrollY: 480}},
		{"keydown Enter", collector.InputKeyDown, collector.Input{Key: "Enter"}},
		{"touchend", collector.InputTouchEnd, collector.Input{}},
		{"error cannot read property x", collector.InputError, collector.Input{Message: "cannot read property x", Source: "stdin"}},
		{"flush", cmdFlush, collector.Input{}},
		{"   ", "", collector.Input{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, in, err := parseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.in, in)
		})
	}
}

func TestParseLineRejectsMalformedInput(t *testing.T) {
	for _, line := range []string{"mousemove 10", "click a 2", "keyup", "wave hello"} {
		_, _, err := parseLine(line)
		assert.Error(t, err, line)
	}
}
