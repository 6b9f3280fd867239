package l1samples

import "math"

// DefaultVehicleID is assigned to every row when the input has no vehicle column.
const DefaultVehicleID = "vehicle_0"

// Sample is a single tri-axial accelerometer reading. Samples are immutable
// once read.
type Sample struct {
	Timestamp float64 // seconds
	VehicleID string
	AccelX    float64
	AccelY    float64
	AccelZ    float64
	Label     int // 0 normal, 1 accident

	EventID     string
	Severity    float64
	HasSeverity bool
}

// Magnitude returns the Euclidean norm of the acceleration vector.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

// VehicleSamples is one vehicle's stream in timestamp order.
type VehicleSamples struct {
	VehicleID string
	Samples   []Sample
}
