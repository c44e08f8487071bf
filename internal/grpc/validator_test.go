package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidator_ValidateMeterID(t *testing.T) {
	validator := NewRequestValidator()

	tests := []struct {
		name       string
		meterID    string
		wantErr    bool
		errMessage string
	}{
		{
			name:    "valid id",
			meterID: "main-building_01",
		},
		{
			name:    "dotted id",
			meterID: "site.a:boiler",
		},
		{
			name:       "missing id",
			meterID:    "",
			wantErr:    true,
			errMessage: "missing meter_id",
		},
		{
			name:       "too long",
			meterID:    strings.Repeat("a", 65),
			wantErr:    true,
			errMessage: "exceeds 64 characters",
		},
		{
			name:       "leading separator",
			meterID:    "-m1",
			wantErr:    true,
			errMessage: "invalid meter_id: -m1",
		},
		{
			name:       "topic wildcard",
			meterID:    "m1/#",
			wantErr:    true,
			errMessage: "invalid meter_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateMeterID(tt.meterID)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
}
