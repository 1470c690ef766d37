package go_cdp

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionState tracks the handshake phase of a session.
type SessionState int

const (
	// SessionAwaitingConnectRequest is the initial state: no cryptor, no
	// remote key material.
	SessionAwaitingConnectRequest SessionState = iota

	// SessionAwaitingAuth means the key agreement completed and frames
	// now parse under the cryptor, but the peer has not authenticated.
	SessionAwaitingAuth

	// SessionAwaitingUpgradeOrAuthDone means the peer's device
	// certificate verified; upgrade and auth-done flows may arrive.
	SessionAwaitingUpgradeOrAuthDone

	// SessionEstablished means session-plane and control-plane traffic
	// flows freely.
	SessionEstablished

	// SessionDisposed is terminal; every operation fails with
	// ErrSessionDisposed.
	SessionDisposed
)

func getSessionStateName(state SessionState) string {
	switch state {
	case SessionAwaitingConnectRequest:
		return "AwaitingConnectRequest"
	case SessionAwaitingAuth:
		return "AwaitingAuth"
	case SessionAwaitingUpgradeOrAuthDone:
		return "AwaitingUpgradeOrAuthDone"
	case SessionEstablished:
		return "Established"
	case SessionDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(state))
	}
}

// Session is one mutually authenticated, end-to-end encrypted
// association with a remote device. It owns the cryptor, the channel
// table and the fragment reassembly table, and drives the handshake
// state machine over inbound Connect and Control frames.
//
// All handshake and control processing is serialized by the session
// mutex; completed session-plane messages are dispatched to channel
// handlers asynchronously. Replies are written atomically under a
// per-session write lock so interleaved writers cannot corrupt framing.
type Session struct {
	localID  uint32
	remoteID uint32
	device   *DeviceDescriptor

	localEncryption  *EncryptionInfo
	remoteEncryption *EncryptionInfo
	cryptor          *Cryptor

	state       SessionState
	initiated   bool
	peerVersion Version

	hmacSize     int
	fragmentSize uint32

	reassembly *reassembler
	channels   *channelRegistry
	apps       *AppRegistry
	platform   PlatformHandler
	metrics    MetricsCollector
	registry   *SessionRegistry

	created time.Time

	mu      sync.Mutex // serializes HandleMessage and state mutation
	writeMu sync.Mutex // one whole reply frame at a time on the socket
	seqMu   sync.Mutex
	nextSeq uint32

	disposed bool
}

func newSession(localID, remoteID uint32, device *DeviceDescriptor, local *EncryptionInfo, registry *SessionRegistry) *Session {
	return &Session{
		localID:         localID,
		remoteID:        remoteID,
		device:          device,
		localEncryption: local,
		state:           SessionAwaitingConnectRequest,
		hmacSize:        CDP_DEFAULT_HMAC_SIZE,
		fragmentSize:    CDP_DEFAULT_FRAGMENT_SIZE,
		reassembly:      newReassembler(),
		channels:        newChannelRegistry(),
		apps:            registry.apps,
		platform:        registry.platform,
		metrics:         registry.metrics,
		registry:        registry,
		created:         time.Now(),
	}
}

// LocalID returns the session id this endpoint allocated.
func (s *Session) LocalID() uint32 {
	return s.localID
}

// RemoteID returns the session id the peer allocated.
func (s *Session) RemoteID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// State returns the current handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return SessionDisposed
	}
	return s.state
}

// Device returns the remote device descriptor.
func (s *Session) Device() *DeviceDescriptor {
	return s.device
}

// PeerVersion returns the protocol version the peer announced in its
// device info, or the zero version when none has arrived.
func (s *Session) PeerVersion() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerVersion
}

// Cryptor returns the session cryptor, or nil before key agreement.
// Once set it never changes for the lifetime of the session.
func (s *Session) Cryptor() *Cryptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cryptor
}

// IsDisposed reports whether the session has been torn down.
func (s *Session) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// ChannelCount returns the number of live channels.
func (s *Session) ChannelCount() int {
	return s.channels.count()
}

// PendingReassemblies returns the number of in-flight partial messages.
func (s *Session) PendingReassemblies() int {
	return s.reassembly.pendingCount()
}

// nextSequenceNumber allocates the next outbound sequence number. All
// fragments of one logical message share a sequence number, so the
// counter advances once per message, not per fragment.
func (s *Session) nextSequenceNumber() uint32 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

// HandleMessage consumes one inbound frame for this session. The
// payload stream is positioned just past the common header; once the
// cryptor is live the payload is decrypted and HMAC-verified before any
// sub-handler sees it.
//
// Errors abort only the offending frame unless they are terminal
// (integrity or authentication failures), in which case the session is
// disposed before the error is returned.
func (s *Session) HandleMessage(sock Socket, header *CommonHeader, payload *Stream) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return NewSessionError(s.localID, "handling message", ErrSessionDisposed)
	}
	err := s.handleMessageLocked(sock, header, payload)
	fatal := IsFatal(err)
	s.mu.Unlock()

	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementError("protocol")
		}
		Error("Session %d failed handling %s frame: %v", s.localID, getMessageTypeName(header.MessageType), err)
	}
	if fatal {
		Warning("Disposing session %d after terminal error", s.localID)
		s.Dispose()
	}
	return err
}

func (s *Session) handleMessageLocked(sock Socket, header *CommonHeader, payload *Stream) error {
	if s.metrics != nil {
		s.metrics.IncrementMessageReceived(header.MessageType)
	}

	reader := payload
	if s.cryptor != nil {
		var err error
		reader, err = s.cryptor.Read(header, payload)
		if err != nil {
			return NewSessionError(s.localID, "decrypting frame", err)
		}
	}

	switch header.MessageType {
	case CDP_MSG_CONNECT:
		return s.handleConnect(sock, header, reader)
	case CDP_MSG_CONTROL:
		return s.handleControl(sock, header, reader)
	case CDP_MSG_SESSION:
		return s.handleSession(header, reader)
	default:
		// Reliability responses and anything newer than this endpoint
		// are logged and dropped without tearing the session down.
		Debug("Session %d dropping unhandled %s frame", s.localID, getMessageTypeName(header.MessageType))
		return nil
	}
}

// handleConnect dispatches the connection sub-protocol driving the
// handshake, transport upgrades and device-info exchanges.
func (s *Session) handleConnect(sock Socket, header *CommonHeader, reader *Stream) error {
	connHeader, err := ReadConnectionHeader(reader)
	if err != nil {
		return err
	}
	Debug("Session %d handling %s in state %s", s.localID,
		getConnectionMessageTypeName(connHeader.MessageType), getSessionStateName(s.state))

	switch connHeader.MessageType {
	case CONN_MSG_CONNECT_REQUEST:
		return s.handleConnectRequest(sock, header, reader)
	case CONN_MSG_CONNECT_RESPONSE:
		return s.handleConnectResponse(header, reader)
	case CONN_MSG_DEVICE_AUTH_REQUEST, CONN_MSG_USER_DEVICE_AUTH_REQUEST:
		return s.handleAuthRequest(sock, header, reader, connHeader.MessageType)
	case CONN_MSG_AUTH_DONE_REQUEST:
		return s.handleAuthDoneRequest(sock, header)
	case CONN_MSG_UPGRADE_REQUEST:
		return s.handleUpgradeRequest(sock, header, reader)
	case CONN_MSG_UPGRADE_FINALIZATION:
		return s.handleUpgradeFinalization(sock, header, reader)
	case CONN_MSG_UPGRADE_FAILURE:
		return s.handleUpgradeFailure(reader)
	case CONN_MSG_TRANSPORT_REQUEST:
		return s.handleTransportRequest(sock, header, reader)
	case CONN_MSG_DEVICE_INFO:
		return s.handleDeviceInfo(sock, header, reader)
	default:
		return NewSessionError(s.localID, "dispatching connection message", ErrUnexpectedMessage)
	}
}

// handleConnectRequest performs the responder half of the key
// agreement: wrap the peer's public point and nonce, derive the session
// secret, bring up the cryptor and answer with our own key material.
// The response is the last plaintext frame the session ever sends.
func (s *Session) handleConnectRequest(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionAwaitingConnectRequest || s.cryptor != nil {
		// A second ConnectRequest after keys are live is either a bug or
		// tampering. Never re-key.
		return NewSessionError(s.localID, "handling connect request", ErrUnexpectedMessage)
	}
	req := &ConnectRequest{}
	if err := req.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing connect request", err)
	}

	remote, err := RemoteEncryptionInfo(req.PublicKeyX, req.PublicKeyY, req.Nonce)
	if err != nil {
		return err
	}
	secret, err := s.localEncryption.GenerateSharedSecret(remote)
	if err != nil {
		return err
	}
	if req.HmacSize > 0 && int(req.HmacSize) < s.hmacSize {
		s.hmacSize = int(req.HmacSize)
	}
	if req.MessageFragmentSize > 0 && req.MessageFragmentSize < s.fragmentSize {
		s.fragmentSize = req.MessageFragmentSize
	}
	cryptor, err := NewCryptor(secret, s.hmacSize)
	if err != nil {
		return err
	}
	s.remoteEncryption = remote
	s.cryptor = cryptor

	x, y := s.localEncryption.PublicKeyXY()
	resp := &ConnectResponse{
		Result:              CONN_RESULT_PENDING,
		HmacSize:            uint16(s.hmacSize),
		Nonce:               s.localEncryption.Nonce(),
		MessageFragmentSize: s.fragmentSize,
		PublicKeyX:          x,
		PublicKeyY:          y,
	}
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	err = s.writePlainReply(sock, reply, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_CONNECT_RESPONSE}).WriteTo(body); err != nil {
			return err
		}
		return resp.writeToStream(body)
	})
	if err != nil {
		return err
	}
	s.state = SessionAwaitingAuth
	Info("Session %d keys established with %s", s.localID, s.device)
	return nil
}

// handleConnectResponse completes a locally initiated handshake. Only a
// session that sent a ConnectRequest accepts one.
func (s *Session) handleConnectResponse(header *CommonHeader, reader *Stream) error {
	if !s.initiated || s.state != SessionAwaitingConnectRequest || s.cryptor != nil {
		return NewSessionError(s.localID, "handling connect response", ErrUnexpectedMessage)
	}
	resp := &ConnectResponse{}
	if err := resp.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing connect response", err)
	}
	remote, err := RemoteEncryptionInfo(resp.PublicKeyX, resp.PublicKeyY, resp.Nonce)
	if err != nil {
		return err
	}
	secret, err := s.localEncryption.GenerateSharedSecret(remote)
	if err != nil {
		return err
	}
	if resp.HmacSize > 0 && int(resp.HmacSize) < s.hmacSize {
		s.hmacSize = int(resp.HmacSize)
	}
	if resp.MessageFragmentSize > 0 && resp.MessageFragmentSize < s.fragmentSize {
		s.fragmentSize = resp.MessageFragmentSize
	}
	cryptor, err := NewCryptor(secret, s.hmacSize)
	if err != nil {
		return err
	}
	s.remoteEncryption = remote
	s.cryptor = cryptor
	// The response carries the peer's freshly allocated session id in
	// the high half of the composite id.
	s.remoteID = header.RemoteSessionID()
	s.state = SessionAwaitingAuth
	Info("Session %d handshake accepted by %s", s.localID, s.device)
	return nil
}

// handleAuthRequest verifies the peer's certificate-backed thumbprint
// over the handshake nonces and answers with our own.
func (s *Session) handleAuthRequest(sock Socket, header *CommonHeader, reader *Stream, msgType uint8) error {
	if s.state < SessionAwaitingAuth || s.cryptor == nil {
		return NewSessionError(s.localID, "handling auth request", ErrUnexpectedMessage)
	}
	auth := &AuthenticationPayload{}
	if err := auth.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing auth payload", err)
	}
	peerCert, err := x509.ParseCertificate(auth.CertificateDER)
	if err != nil {
		return fmt.Errorf("cdp: failed to parse peer certificate: %w", ErrInvalidThumbprint)
	}
	if err := VerifyThumbprint(peerCert, auth.SignedNonces,
		s.remoteEncryption.Nonce(), s.localEncryption.Nonce()); err != nil {
		return NewSessionError(s.localID, "verifying peer thumbprint", err)
	}
	s.device.SetCertificate(peerCert)

	signed, err := s.localEncryption.SignNonces(s.remoteEncryption)
	if err != nil {
		return err
	}
	ours := &AuthenticationPayload{
		CertificateDER: s.localEncryption.CertificateDER(),
		SignedNonces:   signed,
	}
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	err = s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: msgType + 1}).WriteTo(body); err != nil {
			return err
		}
		return ours.writeToStream(body)
	})
	if err != nil {
		return err
	}
	if msgType == CONN_MSG_DEVICE_AUTH_REQUEST && s.state == SessionAwaitingAuth {
		s.state = SessionAwaitingUpgradeOrAuthDone
	}
	Info("Session %d authenticated device %s", s.localID, s.device)
	return nil
}

// handleAuthDoneRequest acknowledges the end of the auth phase and
// opens the session for control and session-plane traffic.
func (s *Session) handleAuthDoneRequest(sock Socket, header *CommonHeader) error {
	if s.state != SessionAwaitingAuth && s.state != SessionAwaitingUpgradeOrAuthDone {
		return NewSessionError(s.localID, "handling auth done", ErrUnexpectedMessage)
	}
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	err := s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_AUTH_DONE_RESPONSE}).WriteTo(body); err != nil {
			return err
		}
		return (&HResultMessage{HResult: 0}).writeToStream(body)
	})
	if err != nil {
		return err
	}
	s.state = SessionEstablished
	if s.metrics != nil {
		s.metrics.RecordHandshakeLatency(time.Since(s.created))
	}
	Info("Session %d established with %s after %v", s.localID, s.device, time.Since(s.created))
	return nil
}

// handleUpgradeRequest advertises our TCP endpoint so the peer can
// migrate the session off its current transport.
func (s *Session) handleUpgradeRequest(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished && s.state != SessionAwaitingUpgradeOrAuthDone {
		return NewSessionError(s.localID, "handling upgrade request", ErrUnexpectedMessage)
	}
	req := &UpgradeRequest{}
	if err := req.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing upgrade request", err)
	}
	Debug("Session %d upgrade requested, %d peer endpoints offered", s.localID, len(req.Endpoints))

	resp := &UpgradeResponse{
		Endpoints: []EndpointInfo{{
			TransportType: CDP_TRANSPORT_TCP,
			Host:          s.platform.LocalIP(),
			Service:       CDP_UPGRADE_PORT,
		}},
		Transports: []uint8{CDP_TRANSPORT_TCP},
	}
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	return s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_UPGRADE_RESPONSE}).WriteTo(body); err != nil {
			return err
		}
		return resp.writeToStream(body)
	})
}

// handleUpgradeFinalization acknowledges the upgrade commit with an
// empty body; the transport manager performs the actual socket swap.
func (s *Session) handleUpgradeFinalization(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished && s.state != SessionAwaitingUpgradeOrAuthDone {
		return NewSessionError(s.localID, "handling upgrade finalization", ErrUnexpectedMessage)
	}
	fin := &UpgradeFinalization{}
	if err := fin.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing upgrade finalization", err)
	}
	Debug("Session %d finalizing upgrade %x", s.localID, fin.UpgradeId)
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	return s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		return (&ConnectionHeader{MessageType: CONN_MSG_UPGRADE_FINALIZATION_RESPONSE}).WriteTo(body)
	})
}

// handleUpgradeFailure logs the peer's failure code. No reply.
func (s *Session) handleUpgradeFailure(reader *Stream) error {
	if s.state < SessionAwaitingUpgradeOrAuthDone {
		return NewSessionError(s.localID, "handling upgrade failure", ErrUnexpectedMessage)
	}
	res := &HResultMessage{}
	if err := res.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing upgrade failure", err)
	}
	Warning("Session %d transport upgrade failed at peer: HResult=0x%08X", s.localID, res.HResult)
	return nil
}

// handleTransportRequest echoes the request body back in a
// TransportConfirmation.
func (s *Session) handleTransportRequest(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished {
		return NewSessionError(s.localID, "handling transport request", ErrUnexpectedMessage)
	}
	echo := reader.Bytes()
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	return s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_TRANSPORT_CONFIRMATION}).WriteTo(body); err != nil {
			return err
		}
		_, err := body.Write(echo)
		return err
	})
}

// handleDeviceInfo acknowledges a device-info blob, recording the
// peer's announced name and protocol version when the blob parses.
func (s *Session) handleDeviceInfo(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished {
		return NewSessionError(s.localID, "handling device info", ErrUnexpectedMessage)
	}
	info := &DeviceInfoMessage{}
	if err := info.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONNECT, "parsing device info", err)
	}
	Debug("Session %d received %d bytes of device info", s.localID, len(info.DeviceInfo))
	var env deviceInfoEnvelope
	if err := json.Unmarshal(info.DeviceInfo, &env); err == nil {
		if env.Version != "" {
			s.peerVersion = parseVersion(env.Version)
			if !s.peerVersion.AtLeast(3, 0, 0) {
				Warning("Session %d peer runs protocol %s, this endpoint speaks %s", s.localID, s.peerVersion, CDP_VERSION)
			}
		}
		if env.DeviceName != "" && s.device != nil {
			s.device.Name = env.DeviceName
		}
	}
	reply := s.replyHeader(header, CDP_MSG_CONNECT)
	return s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		return (&ConnectionHeader{MessageType: CONN_MSG_DEVICE_INFO_RESPONSE}).WriteTo(body)
	})
}

// handleControl dispatches the control sub-protocol. Only channel-open
// is defined; everything else is a protocol violation.
func (s *Session) handleControl(sock Socket, header *CommonHeader, reader *Stream) error {
	ctrlHeader, err := ReadControlHeader(reader)
	if err != nil {
		return err
	}
	switch ctrlHeader.MessageType {
	case CTRL_MSG_START_CHANNEL_REQUEST:
		return s.handleStartChannelRequest(sock, header, reader)
	default:
		return NewSessionError(s.localID, "dispatching control message", ErrUnexpectedMessage)
	}
}

// handleStartChannelRequest allocates a channel for the requested app
// and answers with its id. The reply clears the inbound TLV chain,
// records the request id in a reply-to header and appends the fixed
// channel tag header the peer expects verbatim.
func (s *Session) handleStartChannelRequest(sock Socket, header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished {
		return NewSessionError(s.localID, "handling start channel", ErrUnexpectedMessage)
	}
	req := &StartChannelRequest{}
	if err := req.readFromStream(reader); err != nil {
		return NewMessageError(CDP_MSG_CONTROL, "parsing start channel request", err)
	}
	channelID, err := s.channels.startChannel(s, s.apps, req, sock)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetActiveChannels(s.channels.count())
	}

	reply := s.replyHeader(header, CDP_MSG_CONTROL)
	reply.SetReplyToID(header.RequestID)
	reply.AdditionalHeaders = append(reply.AdditionalHeaders, AdditionalHeader{
		Type:  ADDITIONAL_HEADER_CHANNEL_TAG,
		Value: channelTagValue,
	})
	resp := &StartChannelResponse{Result: 0, ChannelId: channelID}
	return s.writeEncryptedReply(sock, reply, func(body *Stream) error {
		if err := (&ControlHeader{MessageType: CTRL_MSG_START_CHANNEL_RESPONSE}).WriteTo(body); err != nil {
			return err
		}
		return resp.writeToStream(body)
	})
}

// handleSession feeds a session-plane fragment to the reassembler and,
// when the message completes, hands it to its channel handler on a
// fresh goroutine. Handler failures release the reassembly slot but
// leave the session alive.
func (s *Session) handleSession(header *CommonHeader, reader *Stream) error {
	if s.state != SessionEstablished {
		return NewSessionError(s.localID, "handling session frame", ErrNotEstablished)
	}
	complete, err := s.reassembly.addFragment(header, reader.Bytes())
	if err != nil {
		// Overflow drops the message, not the session.
		Warning("Session %d dropped message seq=%d: %v", s.localID, header.SequenceNumber, err)
		return nil
	}
	if complete == nil {
		return nil
	}
	ch, ok := s.channels.get(header.ChannelID)
	if !ok {
		Warning("Session %d dropping complete message for unknown channel %d", s.localID, header.ChannelID)
		return nil
	}
	go s.dispatchToChannel(ch, complete)
	return nil
}

// dispatchToChannel runs one channel handler invocation, containing
// panics so a faulting app cannot take the session down.
func (s *Session) dispatchToChannel(ch *Channel, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			Error("Panic in channel %d handler on session %d: %v", ch.id, s.localID, r)
		}
	}()
	if s.IsDisposed() {
		Warning("Session %d disposed before dispatch to channel %d", s.localID, ch.id)
		return
	}
	if err := ch.app.HandleMessage(ch, payload); err != nil {
		Error("Channel %d handler failed on session %d: %v", ch.id, s.localID, err)
	}
}

// replyHeader composes the outbound header answering an inbound frame:
// our local id in the high half, the peer's in the low half, and the
// host-role bit corrected for the reply direction.
func (s *Session) replyHeader(in *CommonHeader, msgType uint8) *CommonHeader {
	h := in.CorrectClientSessionBit()
	h.MessageType = msgType
	h.SessionID = ComposeSessionID(s.localID, s.remoteID, !in.HostFlagSet())
	h.PayloadSize = 0
	h.Flags = 0
	h.FragmentIndex = 0
	h.FragmentCount = 1
	h.ChannelID = in.ChannelID
	h.AdditionalHeaders = nil
	return h
}

// writePlainReply serializes a plaintext frame and writes it atomically.
func (s *Session) writePlainReply(sock Socket, header *CommonHeader, bodyFn func(*Stream) error) error {
	body := NewStreamPooled(1024)
	defer ReleaseStream(body)
	if err := bodyFn(body); err != nil {
		return err
	}
	header.PayloadSize = uint32(body.Len())
	header.SequenceNumber = s.nextSequenceNumber()
	out := NewStreamPooled(int(header.PayloadSize) + commonHeaderFixedSize + 16)
	defer ReleaseStream(out)
	if err := header.WriteTo(out); err != nil {
		return err
	}
	if _, err := out.Write(body.Bytes()); err != nil {
		return err
	}
	return s.writeFrame(sock, out.Bytes(), header.MessageType)
}

// writeEncryptedReply encrypts a frame under the session cryptor and
// writes it atomically.
func (s *Session) writeEncryptedReply(sock Socket, header *CommonHeader, bodyFn func(*Stream) error) error {
	if s.cryptor == nil {
		return NewSessionError(s.localID, "writing encrypted reply", ErrNotEstablished)
	}
	header.SequenceNumber = s.nextSequenceNumber()
	out := NewStreamPooled(1024)
	defer ReleaseStream(out)
	if err := s.cryptor.EncryptMessage(out, header, bodyFn); err != nil {
		return err
	}
	return s.writeFrame(sock, out.Bytes(), header.MessageType)
}

// writeFrame pushes one serialized frame to the socket under the write
// lock so concurrent repliers cannot interleave bytes.
func (s *Session) writeFrame(sock Socket, frame []byte, messageType uint8) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := sock.Write(frame); err != nil {
		return NewSessionError(s.localID, "writing frame", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementMessageSent(messageType)
		s.metrics.AddBytesSent(uint64(len(frame)))
	}
	return nil
}

// SendConnectRequest originates a handshake on a locally created
// session. The frame carries our public point and nonce in plaintext;
// the peer's ConnectResponse completes the key agreement.
func (s *Session) SendConnectRequest(sock Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return NewSessionError(s.localID, "sending connect request", ErrSessionDisposed)
	}
	if s.state != SessionAwaitingConnectRequest || s.cryptor != nil {
		return NewSessionError(s.localID, "sending connect request", ErrUnexpectedMessage)
	}
	s.initiated = true
	x, y := s.localEncryption.PublicKeyXY()
	req := &ConnectRequest{
		CurveType:           0, // NIST P-256
		HmacSize:            uint16(s.hmacSize),
		Nonce:               s.localEncryption.Nonce(),
		MessageFragmentSize: s.fragmentSize,
		PublicKeyX:          x,
		PublicKeyY:          y,
	}
	header := NewCommonHeader(CDP_MSG_CONNECT)
	header.SessionID = ComposeSessionID(s.localID, 0, true)
	return s.writePlainReply(sock, header, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_CONNECT_REQUEST}).WriteTo(body); err != nil {
			return err
		}
		return req.writeToStream(body)
	})
}

// SendDeviceInfo announces this endpoint's device description and
// protocol version on an established session.
func (s *Session) SendDeviceInfo(sock Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return NewSessionError(s.localID, "sending device info", ErrSessionDisposed)
	}
	if s.state != SessionEstablished || s.cryptor == nil {
		return NewSessionError(s.localID, "sending device info", ErrNotEstablished)
	}
	env := deviceInfoEnvelope{Version: CDP_VERSION, DeviceType: int(DEVICE_TYPE_LINUX)}
	if s.registry != nil {
		s.registry.mu.Lock()
		env.DeviceName = s.registry.deviceName
		s.registry.mu.Unlock()
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return err
	}
	header := NewCommonHeader(CDP_MSG_CONNECT)
	header.SessionID = ComposeSessionID(s.localID, s.remoteID, !s.initiated)
	return s.writeEncryptedReply(sock, header, func(body *Stream) error {
		if err := (&ConnectionHeader{MessageType: CONN_MSG_DEVICE_INFO}).WriteTo(body); err != nil {
			return err
		}
		return (&DeviceInfoMessage{DeviceInfo: blob}).writeToStream(body)
	})
}

// SendSessionMessage writes one session-plane message on a channel,
// fragmenting by the negotiated fragment size. Every fragment of the
// message shares one sequence number and is encrypted and written
// atomically.
func (s *Session) SendSessionMessage(sock Socket, channelID uint64, payload []byte) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return NewSessionError(s.localID, "sending session message", ErrSessionDisposed)
	}
	if s.state != SessionEstablished || s.cryptor == nil {
		s.mu.Unlock()
		return NewSessionError(s.localID, "sending session message", ErrNotEstablished)
	}
	cryptor := s.cryptor
	fragmentSize := int(s.fragmentSize)
	sessionID := ComposeSessionID(s.localID, s.remoteID, !s.initiated)
	s.mu.Unlock()

	fragments := fragmentPayload(payload, fragmentSize)
	seq := s.nextSequenceNumber()
	for i, frag := range fragments {
		header := NewCommonHeader(CDP_MSG_SESSION)
		header.SessionID = sessionID
		header.SequenceNumber = seq
		header.FragmentIndex = uint16(i)
		header.FragmentCount = uint16(len(fragments))
		header.ChannelID = channelID
		out := NewStreamPooled(len(frag) + 128)
		err := cryptor.EncryptMessage(out, header, func(body *Stream) error {
			_, err := body.Write(frag)
			return err
		})
		if err != nil {
			ReleaseStream(out)
			return err
		}
		if err := s.writeFrame(sock, out.Bytes(), CDP_MSG_SESSION); err != nil {
			ReleaseStream(out)
			return err
		}
		ReleaseStream(out)
	}
	return nil
}

// fragmentPayload splits payload into chunks of at most fragmentSize
// bytes. An empty payload still produces one empty fragment.
func fragmentPayload(payload []byte, fragmentSize int) [][]byte {
	if fragmentSize <= 0 {
		fragmentSize = CDP_DEFAULT_FRAGMENT_SIZE
	}
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var fragments [][]byte
	for off := 0; off < len(payload); off += fragmentSize {
		end := off + fragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, payload[off:end])
	}
	return fragments
}

// Dispose tears the session down: marks it disposed, removes it from
// the registry and releases every channel and pending reassembly.
// In-flight handler goroutines observe ErrSessionDisposed on their next
// interaction; they are not force-cancelled. Dispose is idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = SessionDisposed
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.remove(s.localID)
	}
	s.channels.disposeAll()
	s.reassembly.clear()
	Info("Session %d disposed after %v", s.localID, time.Since(s.created))
}
