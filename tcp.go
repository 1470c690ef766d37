package go_cdp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Tcp is one stream transport carrying CDP frames, plain or under TLS.
// It satisfies Socket, so a session can reply directly onto it.
type Tcp struct {
	mu        sync.Mutex
	conn      net.Conn
	address   string
	tlsConfig *tls.Config
	timeout   time.Duration
}

// NewTcp creates an unconnected transport aimed at address
// (host:port form).
func NewTcp(address string) *Tcp {
	return &Tcp{address: address, timeout: 30 * time.Second}
}

// loadTLSConfig assembles a TLS configuration from certificate files.
// certFile/keyFile supply an optional certificate; caFile an optional
// CA bundle, falling back to the system pool. insecure disables server
// certificate verification and must stay off outside development.
func loadTLSConfig(certFile, keyFile, caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("cdp: failed to load certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		Debug("Loaded certificate from %s", certFile)
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("cdp: failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("cdp: failed to parse CA certificate from %s", caFile)
		}
		cfg.RootCAs = pool
	} else if roots, err := x509.SystemCertPool(); err == nil {
		cfg.RootCAs = roots
	}

	if insecure {
		Warning("TLS certificate verification DISABLED - insecure mode active")
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

// SetupTLS configures TLS for the transport from certificate files.
func (tcp *Tcp) SetupTLS(certFile, keyFile, caFile string, insecure bool) error {
	cfg, err := loadTLSConfig(certFile, keyFile, caFile, insecure)
	if err != nil {
		return err
	}
	tcp.setTLSConfig(cfg)
	return nil
}

func (tcp *Tcp) setTLSConfig(cfg *tls.Config) {
	tcp.mu.Lock()
	tcp.tlsConfig = cfg
	tcp.mu.Unlock()
}

// Connect dials the configured address, performing the TLS handshake
// when TLS is set up.
func (tcp *Tcp) Connect() error {
	tcp.mu.Lock()
	defer tcp.mu.Unlock()
	if tcp.conn != nil {
		return ErrAlreadyConnected
	}
	dialer := &net.Dialer{Timeout: tcp.timeout}
	conn, err := dialer.Dial("tcp", tcp.address)
	if err != nil {
		return fmt.Errorf("cdp: failed to connect to %s: %w", tcp.address, err)
	}
	if tcp.tlsConfig != nil {
		host, _, splitErr := net.SplitHostPort(tcp.address)
		if splitErr != nil {
			host = tcp.address
		}
		cfg := tcp.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("cdp: TLS handshake with %s failed: %w", tcp.address, err)
		}
		conn = tlsConn
		Debug("TLS transport established to %s", tcp.address)
	}
	tcp.conn = conn
	Info("Connected to %s", tcp.address)
	return nil
}

// Attach wraps an already-established connection, e.g. one accepted by
// a listener or produced by an upgrade dial.
func (tcp *Tcp) Attach(conn net.Conn) {
	tcp.mu.Lock()
	defer tcp.mu.Unlock()
	if tcp.conn != nil {
		tcp.conn.Close()
	}
	tcp.conn = conn
}

// IsConnected reports whether a connection is live.
func (tcp *Tcp) IsConnected() bool {
	tcp.mu.Lock()
	defer tcp.mu.Unlock()
	return tcp.conn != nil
}

// Write sends raw frame bytes. Satisfies Socket.
func (tcp *Tcp) Write(p []byte) (int, error) {
	tcp.mu.Lock()
	conn := tcp.conn
	tcp.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Write(p)
}

// Read fills p from the connection.
func (tcp *Tcp) Read(p []byte) (int, error) {
	tcp.mu.Lock()
	conn := tcp.conn
	tcp.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Read(p)
}

// Close tears the connection down. Safe to call when not connected.
func (tcp *Tcp) Close() error {
	tcp.mu.Lock()
	conn := tcp.conn
	tcp.conn = nil
	tcp.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
