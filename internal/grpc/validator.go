package server

import (
	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

type RequestValidator struct {
	validateID func(string) error
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validateID: models.ValidateMeterID,
	}
}

// ValidateMeterID checks the shape of a meter id before it reaches the engine.
func (v *RequestValidator) ValidateMeterID(meterID string) error {
	return v.validateID(meterID)
}
