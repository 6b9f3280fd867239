package serialmux

import (
	"errors"
	"testing"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"truck_1,12.34,0.1,-0.2,9.81", EventTypeSample},
		{"12.34,0.1,-0.2,9.81", EventTypeSample},
		{`{"odr": 50, "fmt": "csv"}`, EventTypeConfig},
		{"# firmware 2.1.0", EventTypeComment},
		{"", EventTypeUnknown},
		{"OK", EventTypeUnknown},
		{"a,b", EventTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyPayload(tt.payload); got != tt.want {
			t.Errorf("ClassifyPayload(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestParseSampleLine(t *testing.T) {
	s, err := ParseSampleLine(" truck_1 , 12.5, 0.25, -1.5, 9.75 ", "ignored")
	if err != nil {
		t.Fatalf("ParseSampleLine() error = %v", err)
	}
	want := l1samples.Sample{VehicleID: "truck_1", Timestamp: 12.5, AccelX: 0.25, AccelY: -1.5, AccelZ: 9.75}
	if s != want {
		t.Errorf("ParseSampleLine() = %+v, want %+v", s, want)
	}
}

func TestParseSampleLine_DefaultVehicle(t *testing.T) {
	s, err := ParseSampleLine("1.0,0,0,9.8", "van_7")
	if err != nil {
		t.Fatalf("ParseSampleLine() error = %v", err)
	}
	if s.VehicleID != "van_7" {
		t.Errorf("VehicleID = %q, want van_7", s.VehicleID)
	}

	s, err = ParseSampleLine(",1.0,0,0,9.8", "")
	if err != nil {
		t.Fatalf("ParseSampleLine() error = %v", err)
	}
	if s.VehicleID != l1samples.DefaultVehicleID {
		t.Errorf("VehicleID = %q, want %q", s.VehicleID, l1samples.DefaultVehicleID)
	}
}

func TestParseSampleLine_DatetimeTimestamp(t *testing.T) {
	s, err := ParseSampleLine("v,2024-01-01 00:00:01,0,0,9.8", "")
	if err != nil {
		t.Fatalf("ParseSampleLine() error = %v", err)
	}
	if s.Timestamp != 1704067201 {
		t.Errorf("Timestamp = %v, want 1704067201", s.Timestamp)
	}
}

func TestParseSampleLine_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"bad timestamp", "v,soon,0,0,9.8"},
		{"bad axis", "v,1.0,x,0,9.8"},
		{"nan axis", "v,1.0,NaN,0,9.8"},
		{"inf axis", "v,1.0,0,+Inf,9.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSampleLine(tt.line, ""); err == nil {
				t.Errorf("ParseSampleLine(%q) should fail", tt.line)
			}
		})
	}

	if _, err := ParseSampleLine(`{"odr":50}`, ""); !errors.Is(err, ErrNotSample) {
		t.Errorf("config line error = %v, want ErrNotSample", err)
	}
}

func TestFormatSampleLine_RoundTrip(t *testing.T) {
	in := l1samples.Sample{VehicleID: "bus_2", Timestamp: 3.02, AccelX: 1.5, AccelY: -0.25, AccelZ: 9.8125}
	out, err := ParseSampleLine(FormatSampleLine(in), "")
	if err != nil {
		t.Fatalf("ParseSampleLine() error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
