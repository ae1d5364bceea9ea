package sensor

import "errors"

// Domain errors for the sensor package.
//
//	if errors.Is(err, sensor.ErrPlaceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrPlaceNotFound is returned when a sensor place ID does not exist.
	ErrPlaceNotFound = errors.New("sensor: place not found")

	// ErrPlaceExists is returned when the (device, pin) pair is already placed.
	ErrPlaceExists = errors.New("sensor: place already exists for device and pin")

	// ErrInvalidPlace is returned when place validation fails.
	ErrInvalidPlace = errors.New("sensor: invalid place")

	// ErrInvalidPin is returned when a pin is not an input channel parameter.
	ErrInvalidPin = errors.New("sensor: pin is not an input channel")

	// ErrParamNotFound is returned when a parameter ID is not in the catalog.
	ErrParamNotFound = errors.New("sensor: parameter not found")
)
