package go_cdp

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/go-i2p/common/base32"
)

// DeviceType classifies the peer hardware advertised during discovery
// and carried in the device descriptor.
type DeviceType uint16

const (
	DEVICE_TYPE_UNKNOWN         DeviceType = 0
	DEVICE_TYPE_XBOX_ONE        DeviceType = 1
	DEVICE_TYPE_IPHONE          DeviceType = 6
	DEVICE_TYPE_IPAD            DeviceType = 7
	DEVICE_TYPE_ANDROID         DeviceType = 8
	DEVICE_TYPE_WINDOWS_DESKTOP DeviceType = 9
	DEVICE_TYPE_WINDOWS_PHONE   DeviceType = 11
	DEVICE_TYPE_LINUX           DeviceType = 12
)

// DeviceDescriptor identifies a remote endpoint: its advertised name,
// hardware class and device certificate. The thumbprint is the SHA-256
// digest of the certificate, displayed in I2P-style base32 in logs.
type DeviceDescriptor struct {
	Name        string
	Type        DeviceType
	Certificate *x509.Certificate
	thumbprint  [sha256.Size]byte
	hasCert     bool
}

// NewDeviceDescriptor creates a descriptor for a peer known only by
// name and type; the certificate is attached once the auth handshake
// delivers it.
func NewDeviceDescriptor(name string, deviceType DeviceType) *DeviceDescriptor {
	return &DeviceDescriptor{Name: name, Type: deviceType}
}

// SetCertificate attaches the peer's device certificate and computes
// its thumbprint.
func (d *DeviceDescriptor) SetCertificate(cert *x509.Certificate) {
	d.Certificate = cert
	d.thumbprint = sha256.Sum256(cert.Raw)
	d.hasCert = true
}

// Thumbprint returns the SHA-256 digest of the device certificate, or
// nil when no certificate has been attached.
func (d *DeviceDescriptor) Thumbprint() []byte {
	if !d.hasCert {
		return nil
	}
	return d.thumbprint[:]
}

// String renders the descriptor for logs: name, type and the base32
// form of the certificate thumbprint when present.
func (d *DeviceDescriptor) String() string {
	if !d.hasCert {
		return fmt.Sprintf("%s (type %d, unauthenticated)", d.Name, d.Type)
	}
	return fmt.Sprintf("%s (type %d, %s)", d.Name, d.Type, base32.EncodeToString(d.thumbprint[:]))
}

func getDeviceTypeName(t DeviceType) string {
	switch t {
	case DEVICE_TYPE_XBOX_ONE:
		return "XboxOne"
	case DEVICE_TYPE_IPHONE:
		return "iPhone"
	case DEVICE_TYPE_IPAD:
		return "iPad"
	case DEVICE_TYPE_ANDROID:
		return "Android"
	case DEVICE_TYPE_WINDOWS_DESKTOP:
		return "WindowsDesktop"
	case DEVICE_TYPE_WINDOWS_PHONE:
		return "WindowsPhone"
	case DEVICE_TYPE_LINUX:
		return "Linux"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(t))
	}
}
