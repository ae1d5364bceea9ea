package sensor

import (
	"time"

	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
)

// Place records which section a hub input feeds. Readings reported by
// DeviceID on the PinParamID address are stored under Section.
type Place struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	PinParamID uint8     `json:"pin_param_id"`
	PinName    string    `json:"pin_name,omitempty"`
	Section    string    `json:"section"`
	CreatedAt  time.Time `json:"created_at"`
}

// Param is a catalog row. It mirrors the built-in descriptor table.
type Param = trf.ParameterDescriptor

// placeKey identifies a place by what arrives on the wire.
type placeKey struct {
	deviceID string
	pin      uint8
}

func (p *Place) key() placeKey {
	return placeKey{deviceID: p.DeviceID, pin: p.PinParamID}
}
