package go_cdp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTcpNotConnected(t *testing.T) {
	tr := NewTcp("127.0.0.1:1")
	if tr.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if _, err := tr.Write([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
	if _, err := tr.Read(make([]byte, 1)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read() error = %v, want ErrNotConnected", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() before Connect error = %v, want nil", err)
	}
}

func TestTcpAttachCarriesBytes(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := NewTcp("pipe")
	tr.Attach(a)
	if !tr.IsConnected() {
		t.Fatal("IsConnected() = false after Attach")
	}

	want := []byte("frame bytes")
	go func() {
		tr.Write(want)
	}()
	got := make([]byte, len(want))
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatalf("reading attached pipe: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("peer read %q, want %q", got, want)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestTcpConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr := NewTcp(ln.Addr().String())
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()
	if err := tr.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the connection")
	}
}

func TestSetupTLSMissingCertificate(t *testing.T) {
	tr := NewTcp("127.0.0.1:1")
	if err := tr.SetupTLS("no-such-cert.pem", "no-such-key.pem", "", false); err == nil {
		t.Error("SetupTLS() with missing files succeeded, want error")
	}
}

func TestSetupTLSBadCABundle(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, []byte("not a pem"), 0o600); err != nil {
		t.Fatalf("writing CA file: %v", err)
	}
	tr := NewTcp("127.0.0.1:1")
	if err := tr.SetupTLS("", "", caFile, false); err == nil {
		t.Error("SetupTLS() with garbage CA bundle succeeded, want error")
	}
}

func TestSetupTLSInsecure(t *testing.T) {
	tr := NewTcp("127.0.0.1:1")
	if err := tr.SetupTLS("", "", "", true); err != nil {
		t.Fatalf("SetupTLS() error = %v", err)
	}
	tr.mu.Lock()
	cfg := tr.tlsConfig
	tr.mu.Unlock()
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Error("SetupTLS(insecure) did not set InsecureSkipVerify")
	}
}
