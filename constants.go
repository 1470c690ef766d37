package go_cdp

// CDP Protocol Constants
//
// The Connected Devices Protocol (CDP) frames every message with a common
// header carrying a two-byte signature, a message type, a 64-bit composite
// session id and an ordered list of additional-header TLVs. The constants
// below cover the wire-level message taxonomy plus the defaults an endpoint
// negotiates during the connect handshake.

// CDP_SIGNATURE is the two-byte marker opening every CDP frame.
const CDP_SIGNATURE uint16 = 0x3030

// Top-level message types carried in CommonHeader.MessageType.
const (
	CDP_MSG_NONE                 uint8 = 0
	CDP_MSG_DISCOVERY            uint8 = 1
	CDP_MSG_CONNECT              uint8 = 2
	CDP_MSG_CONTROL              uint8 = 3
	CDP_MSG_SESSION              uint8 = 4
	CDP_MSG_ACK                  uint8 = 5
	CDP_MSG_RELIABILITY_RESPONSE uint8 = 6
)

// Connection sub-protocol message types carried in ConnectionHeader.MessageType.
// These drive the handshake state machine from ConnectRequest through
// AuthDone, plus the transport-upgrade and device-info flows available on an
// established session.
const (
	CONN_MSG_CONNECT_REQUEST               uint8 = 0
	CONN_MSG_CONNECT_RESPONSE              uint8 = 1
	CONN_MSG_DEVICE_AUTH_REQUEST           uint8 = 2
	CONN_MSG_DEVICE_AUTH_RESPONSE          uint8 = 3
	CONN_MSG_USER_DEVICE_AUTH_REQUEST      uint8 = 4
	CONN_MSG_USER_DEVICE_AUTH_RESPONSE     uint8 = 5
	CONN_MSG_AUTH_DONE_REQUEST             uint8 = 6
	CONN_MSG_AUTH_DONE_RESPONSE            uint8 = 7
	CONN_MSG_CONNECT_FAILURE               uint8 = 8
	CONN_MSG_UPGRADE_REQUEST               uint8 = 9
	CONN_MSG_UPGRADE_RESPONSE              uint8 = 10
	CONN_MSG_UPGRADE_FINALIZATION          uint8 = 11
	CONN_MSG_UPGRADE_FINALIZATION_RESPONSE uint8 = 12
	CONN_MSG_TRANSPORT_REQUEST             uint8 = 13
	CONN_MSG_TRANSPORT_CONFIRMATION        uint8 = 14
	CONN_MSG_UPGRADE_FAILURE               uint8 = 15
	CONN_MSG_DEVICE_INFO                   uint8 = 16
	CONN_MSG_DEVICE_INFO_RESPONSE          uint8 = 17
)

// Control sub-protocol message types carried in ControlHeader.MessageType.
const (
	CTRL_MSG_START_CHANNEL_REQUEST  uint8 = 0
	CTRL_MSG_START_CHANNEL_RESPONSE uint8 = 1
)

// Connect handshake result codes carried in ConnectResponse.Result.
const (
	CONN_RESULT_SUCCESS uint8 = 0
	CONN_RESULT_PENDING uint8 = 1
	CONN_RESULT_FAILURE uint8 = 2
)

// CommonHeader flag bits.
const (
	CDP_FLAG_SHOULD_ACK        uint16 = 0x0001
	CDP_FLAG_HAS_HMAC          uint16 = 0x0002
	CDP_FLAG_SESSION_ENCRYPTED uint16 = 0x0004
)

// Additional-header TLV types. REPLY_TO_ID carries the request id a control
// response answers; type 129 is attached verbatim to channel responses and
// has no documented meaning on the wire, so it is preserved as-is.
const (
	ADDITIONAL_HEADER_NONE        uint8 = 0
	ADDITIONAL_HEADER_REPLY_TO_ID uint8 = 2
	ADDITIONAL_HEADER_CHANNEL_TAG uint8 = 129
)

// channelTagValue is the fixed payload of the type-129 additional header on
// every StartChannelResponse.
var channelTagValue = []byte{0x30, 0x00, 0x00, 0x01}

// Transport types advertised in upgrade endpoint metadata.
const (
	CDP_TRANSPORT_UNKNOWN     uint8 = 0
	CDP_TRANSPORT_TCP         uint8 = 1
	CDP_TRANSPORT_BLUETOOTH   uint8 = 2
	CDP_TRANSPORT_WIFI_DIRECT uint8 = 3
	CDP_TRANSPORT_BLE         uint8 = 4
)

// Session id composition on the wire:
//
//	bits 63..32  originator's local session id
//	bit  31      host-role flag
//	bits 30..0   originator's peer's local session id
const SessionIdHostFlag uint32 = 0x80000000

// Negotiated session defaults. The connect handshake may lower both values;
// an endpoint never raises them above these limits.
const (
	CDP_DEFAULT_HMAC_SIZE     = 32
	CDP_DEFAULT_FRAGMENT_SIZE = 16384
)

// CDP_UPGRADE_PORT is the TCP service an endpoint advertises in
// UpgradeResponse host endpoints.
const CDP_UPGRADE_PORT = "5040"

// CDP_NONCE_SIZE is the length of the handshake nonce each side contributes
// to the key schedule.
const CDP_NONCE_SIZE = 64

// sessionIdCounterStart seeds the session registry's local-id allocator.
// Zero is the wire sentinel for "no session yet" and is never allocated.
const sessionIdCounterStart uint32 = 0xE

// commonHeaderFixedSize is the byte length of the fixed portion of a
// CommonHeader, before the additional-header TLV chain.
const commonHeaderFixedSize = 2 + 1 + 2 + 4 + 8 + 4 + 2 + 2 + 8 + 8

// CDP_MAX_PAYLOAD_SIZE bounds a single frame's payload region (ciphertext
// plus HMAC trailer when encrypted).
const CDP_MAX_PAYLOAD_SIZE = 1 << 20

// Logger Level Constants
const (
	DEBUG   = 1 << 4
	INFO    = 1 << 5
	WARNING = 1 << 6
	ERROR   = 1 << 7
	FATAL   = 1 << 8
)
