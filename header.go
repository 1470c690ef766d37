package go_cdp

import (
	"fmt"
)

// AdditionalHeader is one TLV entry from the variable-length tail of a
// CommonHeader. The chain is terminated on the wire by a zero type byte.
// Type 2 carries the request id a control response answers; type 129 is
// attached verbatim to channel responses and is preserved as received.
type AdditionalHeader struct {
	Type  uint8
	Value []byte
}

// CommonHeader is the framing header carried by every CDP message.
//
// Wire layout (big-endian):
//
//	sig:u16  msg_type:u8  flags:u16  payload_size:u32
//	session_id:u64  sequence_number:u32
//	fragment_index:u16  fragment_count:u16
//	request_id:u64  channel_id:u64
//	additional_headers: (type:u8 size:u8 value[size])* terminated by type 0
//
// The composite session id packs both endpoints' 32-bit ids plus the
// host-role flag; see SessionIdHostFlag.
type CommonHeader struct {
	Signature         uint16
	MessageType       uint8
	Flags             uint16
	PayloadSize       uint32
	SessionID         uint64
	SequenceNumber    uint32
	FragmentIndex     uint16
	FragmentCount     uint16
	RequestID         uint64
	ChannelID         uint64
	AdditionalHeaders []AdditionalHeader
}

// NewCommonHeader returns a header with the CDP signature set and a
// single fragment declared. Callers fill in the rest before writing.
func NewCommonHeader(messageType uint8) *CommonHeader {
	return &CommonHeader{
		Signature:     CDP_SIGNATURE,
		MessageType:   messageType,
		FragmentIndex: 0,
		FragmentCount: 1,
	}
}

// ReadCommonHeader parses a CommonHeader from the stream, leaving the
// stream positioned at the first payload byte.
func ReadCommonHeader(s *Stream) (*CommonHeader, error) {
	h := &CommonHeader{}
	var err error
	if h.Signature, err = s.ReadUint16(); err != nil {
		return nil, NewMessageError(CDP_MSG_NONE, "parsing header signature", err)
	}
	if h.Signature != CDP_SIGNATURE {
		return nil, ErrBadSignature
	}
	if h.MessageType, err = s.ReadByte(); err != nil {
		return nil, err
	}
	if h.Flags, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if h.PayloadSize, err = s.ReadUint32(); err != nil {
		return nil, err
	}
	if h.PayloadSize > CDP_MAX_PAYLOAD_SIZE {
		return nil, ErrMessageTooLarge
	}
	if h.SessionID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	if h.SequenceNumber, err = s.ReadUint32(); err != nil {
		return nil, err
	}
	if h.FragmentIndex, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if h.FragmentCount, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if h.RequestID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	if h.ChannelID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	for {
		hdrType, err := s.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading additional header type: %w", err)
		}
		if hdrType == ADDITIONAL_HEADER_NONE {
			// Terminator carries a size byte of zero.
			if _, err := s.ReadByte(); err != nil {
				return nil, fmt.Errorf("reading additional header terminator: %w", err)
			}
			break
		}
		size, err := s.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading additional header size: %w", err)
		}
		value, err := s.ReadFixed(int(size))
		if err != nil {
			return nil, fmt.Errorf("reading additional header value: %w", err)
		}
		h.AdditionalHeaders = append(h.AdditionalHeaders, AdditionalHeader{Type: hdrType, Value: value})
	}
	return h, nil
}

// WriteTo serializes the header to the stream.
func (h *CommonHeader) WriteTo(s *Stream) error {
	if err := s.WriteUint16(h.Signature); err != nil {
		return err
	}
	if err := s.WriteByte(h.MessageType); err != nil {
		return err
	}
	if err := s.WriteUint16(h.Flags); err != nil {
		return err
	}
	if err := s.WriteUint32(h.PayloadSize); err != nil {
		return err
	}
	if err := s.WriteUint64(h.SessionID); err != nil {
		return err
	}
	if err := s.WriteUint32(h.SequenceNumber); err != nil {
		return err
	}
	if err := s.WriteUint16(h.FragmentIndex); err != nil {
		return err
	}
	if err := s.WriteUint16(h.FragmentCount); err != nil {
		return err
	}
	if err := s.WriteUint64(h.RequestID); err != nil {
		return err
	}
	if err := s.WriteUint64(h.ChannelID); err != nil {
		return err
	}
	for _, ah := range h.AdditionalHeaders {
		if len(ah.Value) > 0xFF {
			return fmt.Errorf("additional header %d value too long: %d bytes", ah.Type, len(ah.Value))
		}
		if err := s.WriteByte(ah.Type); err != nil {
			return err
		}
		if err := s.WriteByte(uint8(len(ah.Value))); err != nil {
			return err
		}
		if _, err := s.Write(ah.Value); err != nil {
			return err
		}
	}
	if err := s.WriteByte(ADDITIONAL_HEADER_NONE); err != nil {
		return err
	}
	return s.WriteByte(0)
}

// Bytes serializes the header into a fresh byte slice. The encrypted
// frame HMAC covers exactly these bytes followed by the ciphertext.
func (h *CommonHeader) Bytes() ([]byte, error) {
	buf := NewStream(make([]byte, 0, commonHeaderFixedSize+16))
	if err := h.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the header.
func (h *CommonHeader) Clone() *CommonHeader {
	c := *h
	if h.AdditionalHeaders != nil {
		c.AdditionalHeaders = make([]AdditionalHeader, len(h.AdditionalHeaders))
		for i, ah := range h.AdditionalHeaders {
			v := make([]byte, len(ah.Value))
			copy(v, ah.Value)
			c.AdditionalHeaders[i] = AdditionalHeader{Type: ah.Type, Value: v}
		}
	}
	return &c
}

// LocalSessionID extracts the receiver-side session id from the
// composite wire id. On an inbound frame the peer's view of "remote" is
// our local id, carried in the low half with the host-role flag masked
// off.
func (h *CommonHeader) LocalSessionID() uint32 {
	return uint32(h.SessionID) &^ SessionIdHostFlag
}

// RemoteSessionID extracts the sender's local session id from the
// composite wire id (the high half).
func (h *CommonHeader) RemoteSessionID() uint32 {
	return uint32(h.SessionID >> 32)
}

// HostFlagSet reports whether the sender marked itself as the session
// host on this frame.
func (h *CommonHeader) HostFlagSet() bool {
	return uint32(h.SessionID)&SessionIdHostFlag != 0
}

// CorrectClientSessionBit returns a copy of the header whose composite
// session id is rewritten for the reply direction: the halves are
// swapped so our local id occupies the high half, and the host-role
// flag is flipped so the reply carries the correct originator bit.
func (h *CommonHeader) CorrectClientSessionBit() *CommonHeader {
	reply := h.Clone()
	reply.SessionID = ComposeSessionID(h.LocalSessionID(), h.RemoteSessionID(), !h.HostFlagSet())
	return reply
}

// SetReplyToID clears the TLV chain, records the request id this frame
// answers as a reply-to additional header and zeroes RequestID.
func (h *CommonHeader) SetReplyToID(requestID uint64) {
	value := NewStream(make([]byte, 0, 8))
	value.WriteUint64(requestID)
	h.AdditionalHeaders = []AdditionalHeader{
		{Type: ADDITIONAL_HEADER_REPLY_TO_ID, Value: value.Bytes()},
	}
	h.RequestID = 0
}

// ReplyToID returns the request id recorded in the reply-to additional
// header, or zero when none is present.
func (h *CommonHeader) ReplyToID() uint64 {
	for _, ah := range h.AdditionalHeaders {
		if ah.Type == ADDITIONAL_HEADER_REPLY_TO_ID && len(ah.Value) == 8 {
			v, _ := NewStream(ah.Value).ReadUint64()
			return v
		}
	}
	return 0
}

// ComposeSessionID packs a local/remote id pair into the 64-bit wire
// form. The host flag occupies bit 31 of the low half.
func ComposeSessionID(localID, remoteID uint32, host bool) uint64 {
	low := remoteID &^ SessionIdHostFlag
	if host {
		low |= SessionIdHostFlag
	}
	return uint64(localID)<<32 | uint64(low)
}
