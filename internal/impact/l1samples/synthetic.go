package l1samples

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
)

// GeneratorConfig controls synthetic stream generation.
type GeneratorConfig struct {
	Vehicles         int
	EventsPerVehicle int     // chunks of EventLength samples per vehicle
	EventLength      int     // samples per chunk
	AccidentRate     float64 // probability that a chunk contains an impact
	SamplingRate     float64
	Seed             uint64
}

// DefaultGeneratorConfig mirrors the driving-noise profile used when the
// detector was first trained.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Vehicles:         4,
		EventsPerVehicle: 200,
		EventLength:      100,
		AccidentRate:     0.1,
		SamplingRate:     50,
		Seed:             42,
	}
}

var impactSeverities = []float64{1, 2, 3}

// Generate produces per-sample streams for each vehicle. Normal driving is
// low-variance noise around zero on x/y and gravity on z. An impact adds a
// five-sample spike of roughly 20 m/s² on x somewhere between sample 40 and
// 60 of its chunk; only the spike samples carry label 1.
func Generate(cfg GeneratorConfig) ([]Sample, error) {
	switch {
	case cfg.Vehicles <= 0:
		return nil, NewConfigError("vehicles", "must be positive, got %d", cfg.Vehicles)
	case cfg.EventsPerVehicle <= 0:
		return nil, NewConfigError("events_per_vehicle", "must be positive, got %d", cfg.EventsPerVehicle)
	case cfg.EventLength < 65:
		return nil, NewConfigError("event_length", "must be at least 65 samples, got %d", cfg.EventLength)
	case cfg.AccidentRate < 0 || cfg.AccidentRate > 1:
		return nil, NewConfigError("accident_rate", "must be in [0,1], got %v", cfg.AccidentRate)
	case cfg.SamplingRate <= 0:
		return nil, NewConfigError("sampling_rate", "must be positive, got %v", cfg.SamplingRate)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	samples := make([]Sample, 0, cfg.Vehicles*cfg.EventsPerVehicle*cfg.EventLength)

	for v := 0; v < cfg.Vehicles; v++ {
		vehicleID := fmt.Sprintf("vehicle_%d", v)
		for e := 0; e < cfg.EventsPerVehicle; e++ {
			accident := rng.Float64() < cfg.AccidentRate
			spikeStart := -1
			severity := 0.0
			if accident {
				spikeStart = 40 + rng.IntN(20)
				severity = impactSeverities[rng.IntN(len(impactSeverities))]
			}
			eventID := fmt.Sprintf("%s-%d", vehicleID, e)

			for i := 0; i < cfg.EventLength; i++ {
				idx := e*cfg.EventLength + i
				s := Sample{
					Timestamp: float64(idx) / cfg.SamplingRate,
					VehicleID: vehicleID,
					AccelX:    rng.NormFloat64() * 0.5,
					AccelY:    rng.NormFloat64() * 0.5,
					AccelZ:    9.8 + rng.NormFloat64()*0.2,
					EventID:   eventID,
				}
				if spikeStart >= 0 && i >= spikeStart && i < spikeStart+5 {
					s.AccelX += 20 + rng.NormFloat64()*5
					s.Label = 1
					s.Severity = severity
					s.HasSeverity = true
				}
				samples = append(samples, s)
			}
		}
	}
	return samples, nil
}

// WriteCSV writes samples with the schema's column names so the output can
// be read back with ReadCSV.
func WriteCSV(w io.Writer, samples []Sample, schema Schema) error {
	cw := csv.NewWriter(w)
	header := []string{schema.Timestamp, schema.VehicleID, schema.AccelX, schema.AccelY, schema.AccelZ, schema.Label, schema.EventID, schema.Severity}
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	rec := make([]string, len(header))
	for _, s := range samples {
		rec[0] = f(s.Timestamp)
		rec[1] = s.VehicleID
		rec[2] = f(s.AccelX)
		rec[3] = f(s.AccelY)
		rec[4] = f(s.AccelZ)
		rec[5] = strconv.Itoa(s.Label)
		rec[6] = s.EventID
		rec[7] = ""
		if s.HasSeverity {
			rec[7] = f(s.Severity)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
