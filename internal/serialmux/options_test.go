package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_Parity(t *testing.T) {
	for in, want := range map[string]string{"none": "N", " even ": "E", "o": "O", "ODD": "O"} {
		got, err := PortOptions{Parity: in}.Normalise()
		if err != nil {
			t.Fatalf("Normalise(%q) error = %v", in, err)
		}
		if got.Parity != want {
			t.Errorf("Normalise(%q).Parity = %q, want %q", in, got.Parity, want)
		}
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"data bits too small", PortOptions{DataBits: 4}},
		{"data bits too large", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalise(); err == nil {
				t.Error("Normalise() should fail")
			}
			if _, err := tt.opts.PortMode(); err == nil {
				t.Error("PortMode() should fail")
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: DefaultBaudRate, Parity: "none"}) {
		t.Error("defaults should equal their explicit form")
	}
	if (PortOptions{BaudRate: 9600}).Equal(PortOptions{}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "bad"}).Equal(PortOptions{Parity: "bad"}) {
		t.Error("invalid options are never equal")
	}
}

func TestPortOptions_PortMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 230400, StopBits: 2, Parity: "E"}.PortMode()
	if err != nil {
		t.Fatalf("PortMode() error = %v", err)
	}
	want := SerialPortMode{BaudRate: 230400, DataBits: 8, Parity: EvenParity, StopBits: TwoStopBits}
	if *mode != want {
		t.Errorf("PortMode() = %+v, want %+v", *mode, want)
	}
}

func TestSerialMode(t *testing.T) {
	m, err := serialMode(&SerialPortMode{BaudRate: 9600, DataBits: 7, Parity: OddParity, StopBits: TwoStopBits})
	if err != nil {
		t.Fatalf("serialMode() error = %v", err)
	}
	if m.BaudRate != 9600 || m.DataBits != 7 || m.Parity != serial.OddParity || m.StopBits != serial.TwoStopBits {
		t.Errorf("serialMode() = %+v", m)
	}

	m, err = serialMode(nil)
	if err != nil {
		t.Fatalf("serialMode(nil) error = %v", err)
	}
	if m.BaudRate != DefaultBaudRate || m.Parity != serial.NoParity || m.StopBits != serial.OneStopBit {
		t.Errorf("serialMode(nil) = %+v, want defaults", m)
	}

	if _, err := serialMode(&SerialPortMode{Parity: Parity(9)}); err == nil {
		t.Error("unknown parity should fail")
	}
}
