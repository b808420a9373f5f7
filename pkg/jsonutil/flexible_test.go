package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"hello"`, "hello"},
		{"integer", `7`, "7"},
		{"float", `7.5`, "7.5"},
		{"bool", `true`, "true"},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexibleStringValue(json.RawMessage(tt.raw)))
		})
	}
}

func TestFlexibleIntValue(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   int
		wantOK bool
	}{
		{"number", `7`, 7, true},
		{"float", `7.9`, 7, true},
		{"quoted int", `"8"`, 8, true},
		{"quoted float", `"8.0"`, 8, true},
		{"null", `null`, 0, false},
		{"non-numeric string", `"high"`, 0, false},
		{"object", `{"score":5}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FlexibleIntValue(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	assert.Equal(t, []string{"ai", "tools"}, FlexibleStringSlice(json.RawMessage(`["ai","tools"]`)))
	assert.Equal(t, []string{"ai", "7"}, FlexibleStringSlice(json.RawMessage(`["ai", 7]`)))
	assert.Equal(t, []string{"solo"}, FlexibleStringSlice(json.RawMessage(`"solo"`)))
	assert.Nil(t, FlexibleStringSlice(json.RawMessage(`null`)))
	assert.Nil(t, FlexibleStringSlice(nil))
}
