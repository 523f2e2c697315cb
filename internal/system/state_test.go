package system

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateStopped, StateInitializing, true},
		{StateInitializing, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateError, StateInitializing, true},
		{StateRunning, StateInitializing, false},
		{StateStopped, StateRunning, false},
		{StateStopping, StateRunning, false},
	}

	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		assert.Equal(t, err == nil, tt.ok)
	}
}

func TestSystemStatusJSON(t *testing.T) {
	data, err := json.Marshal(SystemStatus{State: StateRunning, Timestamp: 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), `{"state":"RUNNING","timestamp":1}`)
	assert.Equal(t, SystemState(42).String(), "UNKNOWN")
}
