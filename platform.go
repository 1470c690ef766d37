package go_cdp

import (
	"net"
)

// PlatformHandler is the small capability surface the session core
// needs from its host platform: structured logging and the local IP
// address advertised during transport upgrades.
type PlatformHandler interface {
	Log(level int, msg string)
	LocalIP() string
}

// defaultPlatformHandler routes log lines through the package logger
// and discovers the local IP by asking the kernel for the route to a
// public address. No packet is sent; the dial only resolves a source
// address.
type defaultPlatformHandler struct{}

// NewDefaultPlatformHandler returns the stock platform handler.
func NewDefaultPlatformHandler() PlatformHandler {
	return &defaultPlatformHandler{}
}

func (p *defaultPlatformHandler) Log(level int, msg string) {
	switch level {
	case DEBUG:
		Debug("%s", msg)
	case INFO:
		Info("%s", msg)
	case WARNING:
		Warning("%s", msg)
	case ERROR:
		Error("%s", msg)
	case FATAL:
		Fatal("%s", msg)
	default:
		Debug("%s", msg)
	}
}

func (p *defaultPlatformHandler) LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		Warning("Failed to discover local IP: %v", err)
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
