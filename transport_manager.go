package go_cdp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TransportManager owns the TCP side of a CDP endpoint: it listens for
// inbound upgrade connections, runs the per-connection read loop that
// slices the byte stream into complete frames, and dials peers'
// advertised endpoints when this side drives an upgrade. Every frame it
// extracts is routed through the session registry.
type TransportManager struct {
	registry      *SessionRegistry
	breaker       *CircuitBreaker
	listenAddress string
	tlsConfig     *tls.Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Tcp]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewTransportManager creates a manager routing frames into registry.
// listenAddress is the host:port the upgrade listener binds; empty
// selects every interface on the standard upgrade port.
func NewTransportManager(registry *SessionRegistry, listenAddress string) *TransportManager {
	if listenAddress == "" {
		listenAddress = ":" + CDP_UPGRADE_PORT
	}
	return &TransportManager{
		registry:      registry,
		breaker:       NewCircuitBreaker(3, 30*time.Second),
		listenAddress: listenAddress,
		conns:         make(map[*Tcp]struct{}),
	}
}

// NewTransportManagerFromConfig builds a manager from endpoint
// configuration, applying its listen address and TLS material.
func NewTransportManagerFromConfig(registry *SessionRegistry, cfg EndpointConfig) (*TransportManager, error) {
	tm := NewTransportManager(registry, cfg.ListenAddress)
	if cfg.TLSCertFile != "" || cfg.TLSCAFile != "" || cfg.TLSInsecure {
		if err := tm.SetupTLS(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile, cfg.TLSInsecure); err != nil {
			return nil, err
		}
	}
	return tm, nil
}

// SetTLSConfig installs the TLS configuration used for both the
// listener and outbound upgrade dials. Must be called before Start.
func (tm *TransportManager) SetTLSConfig(cfg *tls.Config) {
	tm.tlsConfig = cfg
}

// SetupTLS builds the TLS configuration from certificate files and
// installs it. Must be called before Start.
func (tm *TransportManager) SetupTLS(certFile, keyFile, caFile string, insecure bool) error {
	cfg, err := loadTLSConfig(certFile, keyFile, caFile, insecure)
	if err != nil {
		return err
	}
	tm.tlsConfig = cfg
	return nil
}

// ListenAddress returns the address the upgrade listener is bound to,
// useful when the configured port was 0.
func (tm *TransportManager) ListenAddress() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.listener != nil {
		return tm.listener.Addr().String()
	}
	return tm.listenAddress
}

// Start binds the upgrade listener and begins accepting connections.
func (tm *TransportManager) Start() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrRegistryClosed
	}
	if tm.listener != nil {
		return ErrAlreadyConnected
	}
	var (
		ln  net.Listener
		err error
	)
	if tm.tlsConfig != nil {
		ln, err = tls.Listen("tcp", tm.listenAddress, tm.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", tm.listenAddress)
	}
	if err != nil {
		return fmt.Errorf("cdp: failed to bind upgrade listener on %s: %w", tm.listenAddress, err)
	}
	tm.listener = ln
	tm.wg.Add(1)
	go tm.acceptLoop(ln)
	Info("Upgrade listener bound on %s", ln.Addr())
	return nil
}

func (tm *TransportManager) acceptLoop(ln net.Listener) {
	defer tm.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			tm.mu.Lock()
			closed := tm.closed
			tm.mu.Unlock()
			if !closed {
				Error("Accept failed on %s: %v", ln.Addr(), err)
			}
			return
		}
		Debug("Accepted transport connection from %s", conn.RemoteAddr())
		tm.ServeConn(conn)
	}
}

// ServeConn wraps an established connection in a Tcp transport and
// runs its read loop on a new goroutine, feeding every complete frame
// to the registry.
func (tm *TransportManager) ServeConn(conn net.Conn) {
	transport := NewTcp(conn.RemoteAddr().String())
	transport.Attach(conn)
	tm.serveTransport(transport)
}

func (tm *TransportManager) serveTransport(transport *Tcp) {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		transport.Close()
		return
	}
	tm.conns[transport] = struct{}{}
	tm.mu.Unlock()
	if tm.registry.metrics != nil {
		tm.registry.metrics.SetConnectionState("connected")
	}
	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.readLoop(transport)
	}()
}

func (tm *TransportManager) readLoop(transport *Tcp) {
	defer func() {
		transport.Close()
		tm.mu.Lock()
		delete(tm.conns, transport)
		remaining := len(tm.conns)
		tm.mu.Unlock()
		if remaining == 0 && tm.registry.metrics != nil {
			tm.registry.metrics.SetConnectionState("disconnected")
		}
	}()
	reader := bufio.NewReader(transport)
	for {
		frame, err := tm.readFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, ErrNotConnected) {
				Warning("Transport from %s failed: %v", transport.address, err)
				if tm.registry.metrics != nil {
					tm.registry.metrics.IncrementError("network")
				}
			}
			return
		}
		// Routing and per-frame handler errors are already logged and
		// counted; only the read side decides the connection's fate.
		// The transport is the Socket session replies go out on.
		_ = tm.registry.HandleFrame(transport, frame)
	}
}

// readFrame extracts one complete frame from the stream: the fixed
// header region, the additional-header TLV chain and the payload region
// (ciphertext plus HMAC trailer once the session's cryptor is live).
func (tm *TransportManager) readFrame(r io.Reader) ([]byte, error) {
	fixed := make([]byte, commonHeaderFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(fixed[0:2]) != CDP_SIGNATURE {
		return nil, ErrBadSignature
	}
	flags := binary.BigEndian.Uint16(fixed[3:5])
	payloadSize := binary.BigEndian.Uint32(fixed[5:9])
	if payloadSize > CDP_MAX_PAYLOAD_SIZE {
		return nil, ErrMessageTooLarge
	}
	sessionID := binary.BigEndian.Uint64(fixed[9:17])

	frame := make([]byte, 0, int(payloadSize)+commonHeaderFixedSize+64)
	frame = append(frame, fixed...)

	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("cdp: reading additional header type: %w", err)
		}
		hdrType := b[0]
		frame = append(frame, hdrType)
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("cdp: reading additional header size: %w", err)
		}
		size := b[0]
		frame = append(frame, size)
		if hdrType == ADDITIONAL_HEADER_NONE {
			break
		}
		value := make([]byte, int(size))
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("cdp: reading additional header value: %w", err)
		}
		frame = append(frame, value...)
	}

	bodyLen := int(payloadSize)
	if flags&CDP_FLAG_HAS_HMAC != 0 {
		bodyLen += tm.hmacTrailerSize(sessionID)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("cdp: reading frame body: %w", err)
	}
	return append(frame, body...), nil
}

// hmacTrailerSize resolves the HMAC trailer length for a frame from the
// session it names, falling back to the protocol default when the
// session or its cryptor is not known yet.
func (tm *TransportManager) hmacTrailerSize(sessionID uint64) int {
	localID := uint32(sessionID) &^ SessionIdHostFlag
	if s, ok := tm.registry.Lookup(localID); ok {
		if c := s.Cryptor(); c != nil {
			return c.HmacSize()
		}
	}
	return CDP_DEFAULT_HMAC_SIZE
}

// DialUpgrade connects to a peer endpoint advertised in an
// UpgradeResponse and adopts the resulting connection. Dialing is
// retried with backoff behind the circuit breaker so an unreachable
// endpoint fails fast once the breaker opens.
func (tm *TransportManager) DialUpgrade(ctx context.Context, endpoint EndpointInfo) (*Tcp, error) {
	if endpoint.TransportType != CDP_TRANSPORT_TCP {
		return nil, fmt.Errorf("cdp: unsupported upgrade transport %d: %w", endpoint.TransportType, ErrInvalidArgument)
	}
	address := net.JoinHostPort(endpoint.Host, endpoint.Service)
	if tm.registry.metrics != nil {
		tm.registry.metrics.SetConnectionState("upgrading")
	}
	transport := NewTcp(address)
	if tm.tlsConfig != nil {
		transport.setTLSConfig(tm.tlsConfig)
	}
	err := tm.breaker.Execute(func() error {
		return RetryWithBackoff(ctx, 3, 500*time.Millisecond, transport.Connect)
	})
	if err != nil {
		if tm.registry.metrics != nil {
			tm.registry.metrics.IncrementError("network")
			tm.registry.metrics.SetConnectionState("disconnected")
		}
		return nil, fmt.Errorf("cdp: upgrade dial to %s failed: %w", address, err)
	}
	Info("Upgrade transport connected to %s", address)
	tm.serveTransport(transport)
	return transport, nil
}

// Close shuts the listener, closes every live connection and waits for
// the read loops to drain. Safe to call more than once.
func (tm *TransportManager) Close() {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return
	}
	tm.closed = true
	ln := tm.listener
	transports := make([]*Tcp, 0, len(tm.conns))
	for t := range tm.conns {
		transports = append(transports, t)
	}
	tm.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, t := range transports {
		t.Close()
	}
	tm.wg.Wait()
	Info("Transport manager closed")
}
