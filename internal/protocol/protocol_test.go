package protocol

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
)

func TestEncodeHistoryBatch(t *testing.T) {
	frame, err := EncodeHistoryBatch("General", []string{"[10:00] hola", "[10:01] adios"})
	if err != nil {
		t.Fatalf("EncodeHistoryBatch failed: %v", err)
	}
	if !strings.HasPrefix(frame, PrefixHistoryBatch) {
		t.Fatalf("missing prefix: %s", frame)
	}

	var batch HistoryBatch
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, PrefixHistoryBatch)), &batch); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if batch.Room != "General" || batch.Total != 2 || len(batch.Messages) != 2 {
		t.Errorf("unexpected batch: %+v", batch)
	}
}

func TestEncodeHistoryBatchEmpty(t *testing.T) {
	frame, err := EncodeHistoryBatch("General", nil)
	if err != nil {
		t.Fatalf("EncodeHistoryBatch failed: %v", err)
	}
	if !strings.Contains(frame, `"mensajes":[]`) {
		t.Errorf("nil messages should encode as empty array: %s", frame)
	}
}

func TestEncodeRoomsUpdate(t *testing.T) {
	frame, err := EncodeRoomsUpdate([]string{"General", "Equipo 1"})
	if err != nil {
		t.Fatalf("EncodeRoomsUpdate failed: %v", err)
	}
	if frame != `ROOMS_UPDATE:["General","Equipo 1"]` {
		t.Errorf("unexpected frame: %s", frame)
	}
}

func TestEscapePayload(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"two\nlines", "two\\nlines"},
		{"crlf\r\nhere", "crlf\\nhere"},
		{"cr\ronly", "cr\\nonly"},
	}
	for _, tt := range tests {
		if got := EscapePayload(tt.in); got != tt.want {
			t.Errorf("EscapePayload(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConnFraming(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewConn(a)
	client := NewConn(b)

	go func() {
		server.WriteLine("mensaje con\nsalto")
		server.WriteLine("segundo")
	}()

	line, err := client.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if line != "mensaje con\\nsalto" {
		t.Errorf("unexpected first frame: %q", line)
	}

	line, err = client.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if line != "segundo" {
		t.Errorf("unexpected second frame: %q", line)
	}
}

func TestReadLineUnblocksOnClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	client := NewConn(a)
	done := make(chan error, 1)
	go func() {
		_, err := client.ReadLine()
		done <- err
	}()

	client.Close()
	if err := <-done; err == nil {
		t.Fatal("expected error after close")
	}
}
