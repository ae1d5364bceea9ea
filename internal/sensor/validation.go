package sensor

import (
	"fmt"
	"strings"

	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
)

// Field limits, matching the catalog's column sizes.
const (
	maxDeviceIDLength = 255
	maxSectionLength  = 255
)

// ValidatePlace checks a place before it is stored. The pin must be a known
// input-channel parameter; filter lengths and outputs are rejected.
func ValidatePlace(p *Place) error {
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	p.Section = strings.TrimSpace(p.Section)

	if p.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidPlace)
	}
	if len(p.DeviceID) > maxDeviceIDLength {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalidPlace, maxDeviceIDLength)
	}
	if p.Section == "" {
		return fmt.Errorf("%w: section is required", ErrInvalidPlace)
	}
	if len(p.Section) > maxSectionLength {
		return fmt.Errorf("%w: section exceeds %d characters", ErrInvalidPlace, maxSectionLength)
	}

	param, ok := trf.LookupParam(p.PinParamID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrParamNotFound, p.PinParamID)
	}
	if _, ok := param.InputChannel(); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidPin, param.Name)
	}
	p.PinName = param.Name
	return nil
}
