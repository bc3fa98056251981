package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptRange(t *testing.T) {
	tests := []struct {
		input      string
		start, end uint64
	}{
		{"100 200\n", 100, 200},
		{"  0\t5 \r\n", 0, 5},
		{"7,9\n", 7, 9},
		{"3 3", 3, 3},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		start, end, err := promptRange(strings.NewReader(tt.input), &out)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
		assert.Equal(t, "Enter start and end block height: ", out.String())
	}
}

func TestPromptRange_Errors(t *testing.T) {
	for _, input := range []string{"", "\n", "5\n", "1 2 3\n", "a 2\n", "1 -2\n", "9 4\n"} {
		_, _, err := promptRange(strings.NewReader(input), &bytes.Buffer{})
		assert.Error(t, err, "%q", input)
	}
}
