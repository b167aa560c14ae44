package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "Z\n" {
		t.Errorf("written = %q, want %q", got, "Z\n")
	}

	if err := mux.SendCommand("UL\n"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "Z\nUL\n" {
		t.Errorf("written = %q, want %q", got, "Z\nUL\n")
	}
}

func TestSendCommandShortWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.ShortWrite = true
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand error = %v, want ErrWriteFailed", err)
	}
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("device detached")
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z"); err == nil || !strings.Contains(err.Error(), "device detached") {
		t.Errorf("SendCommand error = %v, want device detached", err)
	}
}

func TestMonitorDeliversLinesToSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	id, c := mux.Subscribe()
	defer mux.Unsubscribe(id)

	go port.AddReadData([]byte("RUN,BEGIN,4.40\nP,F,1.2345\n"))

	want := []string{"RUN,BEGIN,4.40", "P,F,1.2345"}
	for _, wantLine := range want {
		select {
		case line := <-c:
			if line != wantLine {
				t.Errorf("line = %q, want %q", line, wantLine)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", wantLine)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop after cancellation")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	idA, chA := mux.Subscribe()
	idB, _ := mux.Subscribe()
	if idA == idB {
		t.Fatal("subscriber IDs collide")
	}

	mux.Unsubscribe(idA)
	if _, ok := <-chA; ok {
		t.Error("unsubscribed channel not closed")
	}

	// unsubscribing twice is harmless
	mux.Unsubscribe(idA)
}

func TestCloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed on Close")
	}
	if !port.Closed {
		t.Error("underlying port not closed")
	}
}

func TestInitializeSendsSetupCommands(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	written := string(port.GetWrittenData())
	for _, cmd := range []string{"C=", "Z\n", "UL\n", "OS\n", "OR\n"} {
		if !strings.Contains(written, cmd) {
			t.Errorf("Initialize output %q missing command %q", written, cmd)
		}
	}
}

// Closing the mock mux must tear down the fixture pipe; otherwise the replay
// goroutine blocks forever on its next write.
func TestMockSerialMuxCloseStopsReplay(t *testing.T) {
	mux := NewMockSerialMux([]byte("P,F,1.0\n"), time.Millisecond)

	if err := mux.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := mux.port.Read(make([]byte, 1)); err == nil {
		t.Error("fixture pipe still readable after Close")
	}
}
