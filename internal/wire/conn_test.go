package wire

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestHandleConnRoundTripsShutdownAndClosesConnection(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	shutdownCalled := make(chan struct{}, 1)
	srv.onShutdown = func() { shutdownCalled <- struct{}{} }

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConn(server)
		close(done)
	}()

	req, _ := json.Marshal(Request{Command: CmdShutdown})
	if err := WriteFrame(client, FrameJSON, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, payload, err := ReadFrame(client)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != StatusSuccess {
		t.Fatalf("expected success response, got %v", resp)
	}

	select {
	case <-shutdownCalled:
	case <-time.After(time.Second):
		t.Fatal("expected onShutdown to run")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected handleConn to return after shutdown response")
	}
}

func TestHandleConnRejectsUnknownCommand(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	client, server := net.Pipe()
	defer client.Close()

	go srv.handleConn(server)

	req, _ := json.Marshal(Request{Command: "not_a_real_command"})
	if err := WriteFrame(client, FrameJSON, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, payload, err := ReadFrame(client)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != StatusError {
		t.Fatalf("expected an error response for an unknown command, got %v", resp)
	}
}

func TestHandleConnRejectsSchemaInvalidRequest(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	client, server := net.Pipe()
	defer client.Close()

	go srv.handleConn(server)

	req := []byte(`{"command":"set_rating","image_paths":["a.jpg"]}`)
	if err := WriteFrame(client, FrameJSON, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, payload, err := ReadFrame(client)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != StatusError {
		t.Fatalf("expected a validation error response for a missing required field, got %v", resp)
	}
}
