package go_cdp

import (
	"fmt"
)

// ConnectionHeader prefixes every payload carried in a Connect frame
// and selects the handshake sub-handler.
type ConnectionHeader struct {
	MessageType uint8
}

// ReadConnectionHeader parses a ConnectionHeader from the stream.
func ReadConnectionHeader(s *Stream) (*ConnectionHeader, error) {
	t, err := s.ReadByte()
	if err != nil {
		return nil, NewMessageError(CDP_MSG_CONNECT, "parsing connection header", err)
	}
	return &ConnectionHeader{MessageType: t}, nil
}

// WriteTo serializes the connection header.
func (h *ConnectionHeader) WriteTo(s *Stream) error {
	return s.WriteByte(h.MessageType)
}

// ConnectRequest opens the handshake. It carries the initiator's curve
// selection, HMAC truncation length, handshake nonce, fragment size and
// P-256 public point.
type ConnectRequest struct {
	CurveType           uint8
	HmacSize            uint16
	Nonce               []byte
	MessageFragmentSize uint32
	PublicKeyX          []byte
	PublicKeyY          []byte
}

func (m *ConnectRequest) readFromStream(s *Stream) (err error) {
	if m.CurveType, err = s.ReadByte(); err != nil {
		return
	}
	if m.HmacSize, err = s.ReadUint16(); err != nil {
		return
	}
	if m.Nonce, err = s.ReadFixed(CDP_NONCE_SIZE); err != nil {
		return
	}
	if m.MessageFragmentSize, err = s.ReadUint32(); err != nil {
		return
	}
	if m.PublicKeyX, err = s.ReadLenPrefixedBytes(); err != nil {
		return
	}
	m.PublicKeyY, err = s.ReadLenPrefixedBytes()
	return
}

func (m *ConnectRequest) writeToStream(s *Stream) error {
	if err := s.WriteByte(m.CurveType); err != nil {
		return err
	}
	if err := s.WriteUint16(m.HmacSize); err != nil {
		return err
	}
	if len(m.Nonce) != CDP_NONCE_SIZE {
		return fmt.Errorf("cdp: connect request nonce must be %d bytes", CDP_NONCE_SIZE)
	}
	if _, err := s.Write(m.Nonce); err != nil {
		return err
	}
	if err := s.WriteUint32(m.MessageFragmentSize); err != nil {
		return err
	}
	if err := s.WriteLenPrefixedBytes(m.PublicKeyX); err != nil {
		return err
	}
	return s.WriteLenPrefixedBytes(m.PublicKeyY)
}

// ConnectResponse answers a ConnectRequest with the responder's result
// code, negotiated parameters, nonce and public point.
type ConnectResponse struct {
	Result              uint8
	HmacSize            uint16
	Nonce               []byte
	MessageFragmentSize uint32
	PublicKeyX          []byte
	PublicKeyY          []byte
}

func (m *ConnectResponse) readFromStream(s *Stream) (err error) {
	if m.Result, err = s.ReadByte(); err != nil {
		return
	}
	if m.HmacSize, err = s.ReadUint16(); err != nil {
		return
	}
	if m.Nonce, err = s.ReadFixed(CDP_NONCE_SIZE); err != nil {
		return
	}
	if m.MessageFragmentSize, err = s.ReadUint32(); err != nil {
		return
	}
	if m.PublicKeyX, err = s.ReadLenPrefixedBytes(); err != nil {
		return
	}
	m.PublicKeyY, err = s.ReadLenPrefixedBytes()
	return
}

func (m *ConnectResponse) writeToStream(s *Stream) error {
	if err := s.WriteByte(m.Result); err != nil {
		return err
	}
	if err := s.WriteUint16(m.HmacSize); err != nil {
		return err
	}
	if len(m.Nonce) != CDP_NONCE_SIZE {
		return fmt.Errorf("cdp: connect response nonce must be %d bytes", CDP_NONCE_SIZE)
	}
	if _, err := s.Write(m.Nonce); err != nil {
		return err
	}
	if err := s.WriteUint32(m.MessageFragmentSize); err != nil {
		return err
	}
	if err := s.WriteLenPrefixedBytes(m.PublicKeyX); err != nil {
		return err
	}
	return s.WriteLenPrefixedBytes(m.PublicKeyY)
}

// AuthenticationPayload is the shared body of DeviceAuthRequest,
// UserDeviceAuthRequest and their responses: the sender's device
// certificate and its signature over the handshake nonces.
type AuthenticationPayload struct {
	CertificateDER []byte
	SignedNonces   []byte
}

func (m *AuthenticationPayload) readFromStream(s *Stream) (err error) {
	if m.CertificateDER, err = s.ReadLenPrefixedBytes(); err != nil {
		return
	}
	m.SignedNonces, err = s.ReadLenPrefixedBytes()
	return
}

func (m *AuthenticationPayload) writeToStream(s *Stream) error {
	if err := s.WriteLenPrefixedBytes(m.CertificateDER); err != nil {
		return err
	}
	return s.WriteLenPrefixedBytes(m.SignedNonces)
}

// HResultMessage is the shared body of the single-status connection
// messages: AuthDoneResponse carries zero on success, UpgradeFailure
// carries the peer's failure code.
type HResultMessage struct {
	HResult uint32
}

func (m *HResultMessage) readFromStream(s *Stream) (err error) {
	m.HResult, err = s.ReadUint32()
	return
}

func (m *HResultMessage) writeToStream(s *Stream) error {
	return s.WriteUint32(m.HResult)
}

// EndpointInfo describes one reachable transport endpoint advertised
// during the upgrade flow.
type EndpointInfo struct {
	TransportType uint8
	Host          string
	Service       string
}

func (e *EndpointInfo) readFromStream(s *Stream) (err error) {
	if e.TransportType, err = s.ReadByte(); err != nil {
		return
	}
	if e.Host, err = s.ReadLenPrefixedString(); err != nil {
		return
	}
	e.Service, err = s.ReadLenPrefixedString()
	return
}

func (e *EndpointInfo) writeToStream(s *Stream) error {
	if err := s.WriteByte(e.TransportType); err != nil {
		return err
	}
	if err := s.WriteLenPrefixedString(e.Host); err != nil {
		return err
	}
	return s.WriteLenPrefixedString(e.Service)
}

// UpgradeRequest asks the peer to migrate the session to a faster
// transport. UpgradeId correlates the request with the finalization
// exchange; Endpoints lists the transports the requester can accept on.
type UpgradeRequest struct {
	UpgradeId [16]byte
	Endpoints []EndpointInfo
}

func (m *UpgradeRequest) readFromStream(s *Stream) error {
	id, err := s.ReadFixed(16)
	if err != nil {
		return err
	}
	copy(m.UpgradeId[:], id)
	count, err := s.ReadUint16()
	if err != nil {
		return err
	}
	m.Endpoints = make([]EndpointInfo, count)
	for i := range m.Endpoints {
		if err := m.Endpoints[i].readFromStream(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *UpgradeRequest) writeToStream(s *Stream) error {
	if _, err := s.Write(m.UpgradeId[:]); err != nil {
		return err
	}
	if err := s.WriteUint16(uint16(len(m.Endpoints))); err != nil {
		return err
	}
	for i := range m.Endpoints {
		if err := m.Endpoints[i].writeToStream(s); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeResponse advertises our reachable endpoints and the transport
// types we support, answering an UpgradeRequest.
type UpgradeResponse struct {
	Endpoints  []EndpointInfo
	Transports []uint8
}

func (m *UpgradeResponse) readFromStream(s *Stream) error {
	count, err := s.ReadUint16()
	if err != nil {
		return err
	}
	m.Endpoints = make([]EndpointInfo, count)
	for i := range m.Endpoints {
		if err := m.Endpoints[i].readFromStream(s); err != nil {
			return err
		}
	}
	tcount, err := s.ReadUint16()
	if err != nil {
		return err
	}
	m.Transports, err = s.ReadFixed(int(tcount))
	return err
}

func (m *UpgradeResponse) writeToStream(s *Stream) error {
	if err := s.WriteUint16(uint16(len(m.Endpoints))); err != nil {
		return err
	}
	for i := range m.Endpoints {
		if err := m.Endpoints[i].writeToStream(s); err != nil {
			return err
		}
	}
	if err := s.WriteUint16(uint16(len(m.Transports))); err != nil {
		return err
	}
	_, err := s.Write(m.Transports)
	return err
}

// UpgradeFinalization commits a transport upgrade; its response body is
// empty. The socket swap itself is performed by the transport manager
// once the finalization exchange completes.
type UpgradeFinalization struct {
	UpgradeId [16]byte
}

func (m *UpgradeFinalization) readFromStream(s *Stream) error {
	id, err := s.ReadFixed(16)
	if err != nil {
		return err
	}
	copy(m.UpgradeId[:], id)
	return nil
}

func (m *UpgradeFinalization) writeToStream(s *Stream) error {
	_, err := s.Write(m.UpgradeId[:])
	return err
}

// deviceInfoEnvelope is the JSON shape this package puts in the
// device-info blob and tries to read back out of the peer's. Peers
// sending anything else are still acknowledged.
type deviceInfoEnvelope struct {
	DeviceName string `json:"deviceName"`
	DeviceType int    `json:"deviceType"`
	Version    string `json:"version"`
}

// DeviceInfoMessage carries an opaque device description blob; the
// response acknowledges receipt with an empty body.
type DeviceInfoMessage struct {
	DeviceInfo []byte
}

func (m *DeviceInfoMessage) readFromStream(s *Stream) (err error) {
	n, err := s.ReadUint32()
	if err != nil {
		return err
	}
	if n > CDP_MAX_PAYLOAD_SIZE {
		return ErrMessageTooLarge
	}
	m.DeviceInfo, err = s.ReadFixed(int(n))
	return
}

func (m *DeviceInfoMessage) writeToStream(s *Stream) error {
	if err := s.WriteUint32(uint32(len(m.DeviceInfo))); err != nil {
		return err
	}
	_, err := s.Write(m.DeviceInfo)
	return err
}
