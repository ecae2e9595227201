package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedInSafeMode(t *testing.T) {
	cases := []struct {
		cmd     EdgeCommandType
		allowed bool
	}{
		{CommandStop, true},
		{CommandStatus, true},
		{CommandResume, true},
		{CommandMove, false},
		{CommandCalibrate, false},
		{EdgeCommandType("UNKNOWN"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, AllowedInSafeMode(tc.cmd), "command %s", tc.cmd)
	}
}
