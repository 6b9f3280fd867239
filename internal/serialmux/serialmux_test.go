package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func receiveLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed before a line arrived")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line")
	}
	return ""
}

func TestSerialMux_SendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("ODR=50"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := mux.SendCommand("START\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got, want := string(port.GetWrittenData()), "ODR=50\nSTART\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSerialMux_SendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	if err := mux.SendCommand("START"); err == nil || !strings.Contains(err.Error(), "unplugged") {
		t.Errorf("SendCommand() error = %v, want device error", err)
	}
}

func TestSerialMux_Initialise(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialise(100); err != nil {
		t.Fatalf("Initialise() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(port.GetWrittenData())), "\n")
	if len(lines) != 6 {
		t.Fatalf("wrote %d commands, want 6: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "CLK=") {
		t.Errorf("first command = %q, want clock sync", lines[0])
	}
	want := []string{"STOP", "FMT=CSV", "UNITS=MS2", "ODR=100", "START"}
	for i, w := range want {
		if lines[i+1] != w {
			t.Errorf("command %d = %q, want %q", i+1, lines[i+1], w)
		}
	}

	if err := mux.Initialise(0); err == nil {
		t.Error("Initialise(0) should fail")
	}
}

func TestSerialMux_MonitorFansOutToSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("truck_1,0.00,0.1,0.2,9.8\ntruck_1,0.02,0.1,0.2,9.7\n"))

	for _, ch := range []chan string{a, b} {
		if got := receiveLine(t, ch); got != "truck_1,0.00,0.1,0.2,9.8" {
			t.Errorf("first line = %q", got)
		}
		if got := receiveLine(t, ch); got != "truck_1,0.02,0.1,0.2,9.7" {
			t.Errorf("second line = %q", got)
		}
	}

	mux.Unsubscribe(idB)
	if _, ok := <-b; ok {
		t.Error("unsubscribed channel should be closed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("framing error")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || !strings.Contains(err.Error(), "framing error") {
		t.Errorf("Monitor() error = %v, want framing error", err)
	}
}

func TestSerialMux_CloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"valid command", http.MethodPost, url.Values{"command": {"ODR=100"}}, http.StatusOK, "ODR=100"},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"missing command", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	if got := string(port.GetWrittenData()); got != "ODR=100\n" {
		t.Errorf("port received %q, want %q", got, "ODR=100\n")
	}
}

func TestAttachAdminRoutes_ConsolePage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	for path, want := range map[string]string{
		"/debug/send-command": "Accelerometer serial console",
		"/debug/tail.js":      "EventSource",
	} {
		rec := httptest.NewRecorder()
		httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("%s: body missing %q", path, want)
		}
	}
}

func TestAttachAdminRoutes_TailStreamsLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	reqCtx, reqCancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(rec, req)
		close(served)
	}()

	// wait for the handler to subscribe before feeding the port
	deadline := time.Now().Add(2 * time.Second)
	for {
		mux.subscriberMu.Lock()
		n := len(mux.subscribers)
		mux.subscriberMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tail handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	port.AddReadData([]byte("v1,1.0,0,0,9.8\n"))
	time.Sleep(50 * time.Millisecond)
	reqCancel()
	<-served

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "data: v1,1.0,0,0,9.8") {
		t.Errorf("body = %q, want streamed line", rec.Body.String())
	}
}
