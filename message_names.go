package go_cdp

import "fmt"

// Debug-name helpers for the three message taxonomies. Only used in
// log lines; the wire never carries names.

func getMessageTypeName(messageType uint8) string {
	switch messageType {
	case CDP_MSG_NONE:
		return "None"
	case CDP_MSG_DISCOVERY:
		return "Discovery"
	case CDP_MSG_CONNECT:
		return "Connect"
	case CDP_MSG_CONTROL:
		return "Control"
	case CDP_MSG_SESSION:
		return "Session"
	case CDP_MSG_ACK:
		return "Ack"
	case CDP_MSG_RELIABILITY_RESPONSE:
		return "ReliabilityResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", messageType)
	}
}

func getConnectionMessageTypeName(messageType uint8) string {
	switch messageType {
	case CONN_MSG_CONNECT_REQUEST:
		return "ConnectRequest"
	case CONN_MSG_CONNECT_RESPONSE:
		return "ConnectResponse"
	case CONN_MSG_DEVICE_AUTH_REQUEST:
		return "DeviceAuthRequest"
	case CONN_MSG_DEVICE_AUTH_RESPONSE:
		return "DeviceAuthResponse"
	case CONN_MSG_USER_DEVICE_AUTH_REQUEST:
		return "UserDeviceAuthRequest"
	case CONN_MSG_USER_DEVICE_AUTH_RESPONSE:
		return "UserDeviceAuthResponse"
	case CONN_MSG_AUTH_DONE_REQUEST:
		return "AuthDoneRequest"
	case CONN_MSG_AUTH_DONE_RESPONSE:
		return "AuthDoneResponse"
	case CONN_MSG_CONNECT_FAILURE:
		return "ConnectFailure"
	case CONN_MSG_UPGRADE_REQUEST:
		return "UpgradeRequest"
	case CONN_MSG_UPGRADE_RESPONSE:
		return "UpgradeResponse"
	case CONN_MSG_UPGRADE_FINALIZATION:
		return "UpgradeFinalization"
	case CONN_MSG_UPGRADE_FINALIZATION_RESPONSE:
		return "UpgradeFinalizationResponse"
	case CONN_MSG_TRANSPORT_REQUEST:
		return "TransportRequest"
	case CONN_MSG_TRANSPORT_CONFIRMATION:
		return "TransportConfirmation"
	case CONN_MSG_UPGRADE_FAILURE:
		return "UpgradeFailure"
	case CONN_MSG_DEVICE_INFO:
		return "DeviceInfo"
	case CONN_MSG_DEVICE_INFO_RESPONSE:
		return "DeviceInfoResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", messageType)
	}
}

func getControlMessageTypeName(messageType uint8) string {
	switch messageType {
	case CTRL_MSG_START_CHANNEL_REQUEST:
		return "StartChannelRequest"
	case CTRL_MSG_START_CHANNEL_RESPONSE:
		return "StartChannelResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", messageType)
	}
}
