package l2windows

import "fmt"

// DataInsufficientError reports a vehicle stream shorter than one window.
// Callers log it and continue with the remaining vehicles.
type DataInsufficientError struct {
	VehicleID string
	Have      int
	Need      int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("vehicle %s: %d samples, need at least %d for one window", e.VehicleID, e.Have, e.Need)
}

// MalformedWindowError rejects a single window at inference time. It never
// affects other requests or vehicles.
type MalformedWindowError struct {
	VehicleID string
	Reason    string
}

func (e *MalformedWindowError) Error() string {
	if e.VehicleID == "" {
		return "malformed window: " + e.Reason
	}
	return fmt.Sprintf("malformed window for vehicle %s: %s", e.VehicleID, e.Reason)
}
