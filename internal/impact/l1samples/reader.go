package l1samples

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string, schema Schema) ([]Sample, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open samples file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, schema)
}

// ReadCSV parses accelerometer rows. Missing required columns produce a
// SchemaError before any row is read. Rows keep their file order; use
// GroupByVehicle to obtain per-vehicle streams.
func ReadCSV(r io.Reader, schema Schema) ([]Sample, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SchemaError{Reason: "input is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	col := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := index[name]; ok {
			return i
		}
		return -1
	}

	var missing []string
	for _, name := range []string{schema.AccelX, schema.AccelY, schema.AccelZ, schema.Label} {
		if col(name) < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	ix, iy, iz, il := col(schema.AccelX), col(schema.AccelY), col(schema.AccelZ), col(schema.Label)
	its, iv, ie, is := col(schema.Timestamp), col(schema.VehicleID), col(schema.EventID), col(schema.Severity)

	var samples []Sample
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row, err)
		}

		s := Sample{VehicleID: DefaultVehicleID}
		for _, axis := range []struct {
			idx  int
			name string
			dst  *float64
		}{
			{ix, schema.AccelX, &s.AccelX},
			{iy, schema.AccelY, &s.AccelY},
			{iz, schema.AccelZ, &s.AccelZ},
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[axis.idx]), 64)
			if err != nil {
				return nil, &SchemaError{Row: row, Column: axis.name, Reason: fmt.Sprintf("not a number: %q", rec[axis.idx])}
			}
			*axis.dst = v
		}

		label, ok := ParseLabel(rec[il])
		if !ok {
			return nil, &SchemaError{Row: row, Column: schema.Label, Reason: fmt.Sprintf("unrecognised label %q", rec[il])}
		}
		s.Label = label

		s.Timestamp = float64(row-1) / schema.SamplingRate
		if its >= 0 {
			ts, ok := ParseTimestamp(rec[its])
			if !ok {
				return nil, &SchemaError{Row: row, Column: schema.Timestamp, Reason: fmt.Sprintf("unparseable timestamp %q", rec[its])}
			}
			s.Timestamp = ts
		}
		if iv >= 0 {
			if v := strings.TrimSpace(rec[iv]); v != "" {
				s.VehicleID = v
			}
		}
		if ie >= 0 {
			s.EventID = strings.TrimSpace(rec[ie])
		}
		if is >= 0 {
			s.Severity, s.HasSeverity = ParseSeverity(rec[is])
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// GroupByVehicle splits samples into per-vehicle streams ordered by vehicle
// id, each stably sorted by timestamp.
func GroupByVehicle(samples []Sample) []VehicleSamples {
	byVehicle := make(map[string][]Sample)
	for _, s := range samples {
		byVehicle[s.VehicleID] = append(byVehicle[s.VehicleID], s)
	}

	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]VehicleSamples, 0, len(ids))
	for _, id := range ids {
		stream := byVehicle[id]
		sort.SliceStable(stream, func(i, j int) bool { return stream[i].Timestamp < stream[j].Timestamp })
		groups = append(groups, VehicleSamples{VehicleID: id, Samples: stream})
	}
	return groups
}
