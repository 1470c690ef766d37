package go_cdp

// ControlHeader prefixes every payload carried in a Control frame and
// selects the control sub-handler.
type ControlHeader struct {
	MessageType uint8
}

// ReadControlHeader parses a ControlHeader from the stream.
func ReadControlHeader(s *Stream) (*ControlHeader, error) {
	t, err := s.ReadByte()
	if err != nil {
		return nil, NewMessageError(CDP_MSG_CONTROL, "parsing control header", err)
	}
	return &ControlHeader{MessageType: t}, nil
}

// WriteTo serializes the control header.
func (h *ControlHeader) WriteTo(s *Stream) error {
	return s.WriteByte(h.MessageType)
}

// StartChannelRequest asks the session host to open a logical channel
// bound to the application registered under (Id, Name).
type StartChannelRequest struct {
	Id   string
	Name string
}

func (m *StartChannelRequest) readFromStream(s *Stream) (err error) {
	if m.Id, err = s.ReadLenPrefixedString(); err != nil {
		return
	}
	m.Name, err = s.ReadLenPrefixedString()
	return
}

func (m *StartChannelRequest) writeToStream(s *Stream) error {
	if err := s.WriteLenPrefixedString(m.Id); err != nil {
		return err
	}
	return s.WriteLenPrefixedString(m.Name)
}

// StartChannelResponse answers a StartChannelRequest. The body on the
// wire is a single status byte followed by the allocated 64-bit channel
// id.
type StartChannelResponse struct {
	Result    uint8
	ChannelId uint64
}

func (m *StartChannelResponse) readFromStream(s *Stream) (err error) {
	if m.Result, err = s.ReadByte(); err != nil {
		return
	}
	m.ChannelId, err = s.ReadUint64()
	return
}

func (m *StartChannelResponse) writeToStream(s *Stream) error {
	if err := s.WriteByte(m.Result); err != nil {
		return err
	}
	return s.WriteUint64(m.ChannelId)
}
