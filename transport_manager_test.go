package go_cdp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newTestTransportManager(t *testing.T) (*TransportManager, *SessionRegistry) {
	t.Helper()
	reg := NewSessionRegistry(nil, &fixedPlatform{ip: "192.0.2.10"}, nil)
	return NewTransportManager(reg, "127.0.0.1:0"), reg
}

func plainFrameBytes(t *testing.T, header *CommonHeader, body []byte) []byte {
	t.Helper()
	header.PayloadSize = uint32(len(body))
	raw, err := header.Bytes()
	if err != nil {
		t.Fatalf("header.Bytes() error = %v", err)
	}
	return append(raw, body...)
}

func TestReadFramePlaintext(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	header := NewCommonHeader(CDP_MSG_CONNECT)
	header.SessionID = ComposeSessionID(0x77, 0, true)
	header.AdditionalHeaders = []AdditionalHeader{{Type: 7, Value: []byte{1, 2, 3}}}
	body := []byte("connect body")
	want := plainFrameBytes(t, header, body)

	got, err := tm.readFrame(bytes.NewReader(want))
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("readFrame() = %x, want %x", got, want)
	}
}

func TestReadFrameStopsAtFrameBoundary(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	h1 := NewCommonHeader(CDP_MSG_CONNECT)
	first := plainFrameBytes(t, h1, []byte("one"))
	h2 := NewCommonHeader(CDP_MSG_CONTROL)
	second := plainFrameBytes(t, h2, []byte("two"))

	r := bytes.NewReader(append(append([]byte{}, first...), second...))
	got1, err := tm.readFrame(r)
	if err != nil {
		t.Fatalf("readFrame() first error = %v", err)
	}
	if !bytes.Equal(got1, first) {
		t.Errorf("first frame = %x, want %x", got1, first)
	}
	got2, err := tm.readFrame(r)
	if err != nil {
		t.Fatalf("readFrame() second error = %v", err)
	}
	if !bytes.Equal(got2, second) {
		t.Errorf("second frame = %x, want %x", got2, second)
	}
}

func TestReadFrameBadSignature(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	frame := make([]byte, commonHeaderFixedSize+2)
	frame[0] = 0x12
	frame[1] = 0x34
	if _, err := tm.readFrame(bytes.NewReader(frame)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("readFrame() error = %v, want ErrBadSignature", err)
	}
}

func TestReadFrameOversizePayload(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	header := NewCommonHeader(CDP_MSG_SESSION)
	raw, err := header.Bytes()
	if err != nil {
		t.Fatalf("header.Bytes() error = %v", err)
	}
	// Rewrite the payload-size field past the protocol limit.
	raw[5] = 0xFF
	raw[6] = 0xFF
	raw[7] = 0xFF
	raw[8] = 0xFF
	if _, err := tm.readFrame(bytes.NewReader(raw)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("readFrame() error = %v, want ErrMessageTooLarge", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	header := NewCommonHeader(CDP_MSG_CONNECT)
	frame := plainFrameBytes(t, header, []byte("full body"))
	if _, err := tm.readFrame(bytes.NewReader(frame[:len(frame)-3])); err == nil {
		t.Error("readFrame() with truncated body succeeded, want error")
	}
}

func TestReadFrameHmacTrailerDefaultSize(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	header := NewCommonHeader(CDP_MSG_SESSION)
	header.Flags = CDP_FLAG_HAS_HMAC | CDP_FLAG_SESSION_ENCRYPTED
	header.SessionID = ComposeSessionID(0x77, 0xBEEF, true)
	ciphertext := bytes.Repeat([]byte{0xCC}, 32)
	trailer := bytes.Repeat([]byte{0xDD}, CDP_DEFAULT_HMAC_SIZE)
	frame := append(plainFrameBytes(t, header, ciphertext), trailer...)

	// The session is unknown, so the trailer length falls back to the
	// protocol default.
	got, err := tm.readFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("readFrame() = %d bytes, want %d (ciphertext plus default trailer)", len(got), len(frame))
	}
}

func TestServeConnRoutesHandshake(t *testing.T) {
	tm, reg := newTestTransportManager(t)
	defer tm.Close()

	local, remote := net.Pipe()
	tm.ServeConn(remote)

	peer := newTestPeer(t)
	header := NewCommonHeader(CDP_MSG_CONNECT)
	header.SessionID = ComposeSessionID(peer.localID, 0, true)
	header.SequenceNumber = peer.nextSeq()
	px, py := peer.enc.PublicKeyXY()
	frame := buildPlainFrame(t, header, func(body *Stream) error {
		ch := &ConnectionHeader{MessageType: CONN_MSG_CONNECT_REQUEST}
		if err := ch.WriteTo(body); err != nil {
			return err
		}
		req := &ConnectRequest{
			HmacSize:            CDP_DEFAULT_HMAC_SIZE,
			Nonce:               peer.enc.Nonce(),
			MessageFragmentSize: CDP_DEFAULT_FRAGMENT_SIZE,
			PublicKeyX:          px,
			PublicKeyY:          py,
		}
		return req.writeToStream(body)
	})

	done := make(chan error, 1)
	reply := make(chan []byte, 1)
	go func() {
		if _, err := local.Write(frame); err != nil {
			done <- err
			return
		}
		buf := make([]byte, 4096)
		n, err := local.Read(buf)
		if err != nil {
			done <- err
			return
		}
		reply <- buf[:n]
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("peer I/O error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connect response over the transport")
	}

	raw := <-reply
	respHeader, err := ReadCommonHeader(NewStream(raw))
	if err != nil {
		t.Fatalf("ReadCommonHeader() on reply error = %v", err)
	}
	if respHeader.MessageType != CDP_MSG_CONNECT {
		t.Errorf("reply message type = %d, want CDP_MSG_CONNECT", respHeader.MessageType)
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("registry Count() = %d, want 1", got)
	}
	local.Close()
}

func TestDialUpgradeUnsupportedTransport(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	_, err := tm.DialUpgrade(context.Background(), EndpointInfo{TransportType: 99})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DialUpgrade() error = %v, want ErrInvalidArgument", err)
	}
}

func TestDialUpgradeConnects(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}

	tr, err := tm.DialUpgrade(context.Background(), EndpointInfo{
		TransportType: CDP_TRANSPORT_TCP,
		Host:          host,
		Service:       port,
	})
	if err != nil {
		t.Fatalf("DialUpgrade() error = %v", err)
	}
	if !tr.IsConnected() {
		t.Error("DialUpgrade() returned a disconnected transport")
	}
	tm.Close()
	if tr.IsConnected() {
		t.Error("Close() left the upgrade transport connected")
	}
}

func TestNewTransportManagerFromConfig(t *testing.T) {
	reg := NewSessionRegistry(nil, &fixedPlatform{ip: "192.0.2.10"}, nil)
	cfg := DefaultEndpointConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	tm, err := NewTransportManagerFromConfig(reg, cfg)
	if err != nil {
		t.Fatalf("NewTransportManagerFromConfig() error = %v", err)
	}
	if tm.tlsConfig != nil {
		t.Error("tlsConfig set without TLS material in the config")
	}

	cfg.TLSInsecure = true
	tm, err = NewTransportManagerFromConfig(reg, cfg)
	if err != nil {
		t.Fatalf("NewTransportManagerFromConfig(insecure) error = %v", err)
	}
	if tm.tlsConfig == nil || !tm.tlsConfig.InsecureSkipVerify {
		t.Error("insecure config did not produce a skip-verify TLS config")
	}

	cfg.TLSCertFile = "missing-cert.pem"
	cfg.TLSKeyFile = "missing-key.pem"
	if _, err := NewTransportManagerFromConfig(reg, cfg); err == nil {
		t.Error("missing certificate files accepted, want error")
	}
}

func TestTransportManagerStartAndClose(t *testing.T) {
	tm, _ := newTestTransportManager(t)
	if err := tm.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := tm.ListenAddress()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}
	conn.Close()
	tm.Close()
	tm.Close()
	if err := tm.Start(); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Start() after Close error = %v, want ErrRegistryClosed", err)
	}
}
