package go_cdp

import (
	"crypto/ecdsa"
	"sync"
)

// SessionRegistry owns every live session on this endpoint and routes
// inbound frames to them by the composite session id. It also holds the
// shared pieces each session needs: the application registry, the
// platform handler, the metrics sink and the device credentials used to
// provision per-session key material.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uint32]*Session
	counter  uint32
	closed   bool

	apps     *AppRegistry
	platform PlatformHandler
	metrics  MetricsCollector

	deviceName string
	certDER    []byte
	signer     *ecdsa.PrivateKey
}

// NewSessionRegistry creates a registry. A nil apps argument gets an
// empty application registry; a nil platform gets the default handler.
// metrics may stay nil to disable collection.
func NewSessionRegistry(apps *AppRegistry, platform PlatformHandler, metrics MetricsCollector) *SessionRegistry {
	if apps == nil {
		apps = NewAppRegistry()
	}
	if platform == nil {
		platform = NewDefaultPlatformHandler()
	}
	return &SessionRegistry{
		sessions: make(map[uint32]*Session),
		counter:  sessionIdCounterStart,
		apps:     apps,
		platform: platform,
		metrics:  metrics,
	}
}

// Apps returns the application registry sessions consult when the peer
// opens a channel.
func (r *SessionRegistry) Apps() *AppRegistry {
	return r.apps
}

// SetDeviceCredentials installs the device certificate and signing key
// attached to every session created afterwards. Sessions created before
// the call keep whatever credentials they were provisioned with.
func (r *SessionRegistry) SetDeviceCredentials(name string, certDER []byte, signer *ecdsa.PrivateKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceName = name
	r.certDER = certDER
	r.signer = signer
}

// allocateIDLocked hands out the next free local session id. Zero is
// the wire sentinel for "no session yet" and the host-flag bit cannot
// appear in an id, so both are skipped.
func (r *SessionRegistry) allocateIDLocked() uint32 {
	for {
		r.counter++
		id := r.counter &^ SessionIdHostFlag
		if id == 0 {
			continue
		}
		if _, taken := r.sessions[id]; taken {
			continue
		}
		return id
	}
}

// newLocalEncryption provisions the key material for one session: a
// fresh P-256 keypair and nonce, plus the registry's device credentials
// when present.
func (r *SessionRegistry) newLocalEncryption() (*EncryptionInfo, error) {
	enc, err := CreateEncryptionInfo()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	certDER, signer := r.certDER, r.signer
	r.mu.Unlock()
	if certDER != nil && signer != nil {
		if err := enc.SetCertificate(certDER, signer); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

// CreateSession allocates and registers a session for a handshake this
// endpoint will originate toward device. The caller follows up with
// Session.SendConnectRequest.
func (r *SessionRegistry) CreateSession(device *DeviceDescriptor) (*Session, error) {
	enc, err := r.newLocalEncryption()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	id := r.allocateIDLocked()
	s := newSession(id, 0, device, enc, r)
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
	Info("Created session %d toward %s", id, device)
	return s, nil
}

// GetOrCreate resolves the session an inbound frame belongs to.
//
// A frame whose low session-id half is zero opens a new session: the
// sender does not yet know our id, so one is allocated and the sender's
// id (the high half) recorded as the remote id. Any other frame must
// name a live session whose recorded remote id agrees with the frame;
// a disagreement means the frame was mis-routed or forged.
func (r *SessionRegistry) GetOrCreate(header *CommonHeader, device *DeviceDescriptor) (*Session, error) {
	localID := header.LocalSessionID()
	if localID == 0 {
		enc, err := r.newLocalEncryption()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		id := r.allocateIDLocked()
		s := newSession(id, header.RemoteSessionID(), device, enc, r)
		r.sessions[id] = s
		count := len(r.sessions)
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.SetActiveSessions(count)
		}
		Info("Accepted new session %d from remote %d", id, header.RemoteSessionID())
		return s, nil
	}

	r.mu.Lock()
	s, ok := r.sessions[localID]
	r.mu.Unlock()
	if !ok {
		return nil, NewSessionError(localID, "resolving session", ErrSessionNotFound)
	}
	if s.IsDisposed() {
		return nil, NewSessionError(localID, "resolving session", ErrSessionDisposed)
	}
	if remote := s.RemoteID(); remote != 0 && header.RemoteSessionID() != remote {
		return nil, NewSessionError(localID, "resolving session", ErrSessionMismatch)
	}
	return s, nil
}

// Lookup returns the session registered under localID.
func (r *SessionRegistry) Lookup(localID uint32) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	return s, ok
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// remove drops the session registered under localID. Called by
// Session.Dispose; disposing an already-removed session is a no-op.
func (r *SessionRegistry) remove(localID uint32) {
	r.mu.Lock()
	_, ok := r.sessions[localID]
	if ok {
		delete(r.sessions, localID)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	if ok && r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
}

// HandleFrame is the transport entry point: parse the common header
// from one complete frame, resolve the owning session and hand the
// remainder of the frame to it.
func (r *SessionRegistry) HandleFrame(sock Socket, frame []byte) error {
	if r.metrics != nil {
		r.metrics.AddBytesReceived(uint64(len(frame)))
	}
	stream := NewStream(frame)
	header, err := ReadCommonHeader(stream)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncrementError("framing")
		}
		return err
	}
	session, err := r.GetOrCreate(header, NewDeviceDescriptor("unknown", DEVICE_TYPE_UNKNOWN))
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncrementError("routing")
		}
		Warning("Dropping %s frame for session %d: %v",
			getMessageTypeName(header.MessageType), header.LocalSessionID(), err)
		return err
	}
	return session.HandleMessage(sock, header, stream)
}

// DisposeAll tears down every session and closes the registry against
// further creation. Safe to call more than once.
func (r *SessionRegistry) DisposeAll() {
	r.mu.Lock()
	r.closed = true
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()
	for _, s := range snapshot {
		s.Dispose()
	}
	if r.metrics != nil {
		r.metrics.SetActiveSessions(0)
	}
	Info("Session registry closed, %d sessions disposed", len(snapshot))
}
