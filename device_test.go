package go_cdp

import (
	"crypto/sha256"
	"crypto/x509"
	"strings"
	"testing"
)

func TestDeviceDescriptorThumbprint(t *testing.T) {
	d := NewDeviceDescriptor("phone", DEVICE_TYPE_ANDROID)
	if d.Thumbprint() != nil {
		t.Error("Thumbprint() without certificate != nil")
	}
	if !strings.Contains(d.String(), "unauthenticated") {
		t.Errorf("String() = %q, want unauthenticated marker", d.String())
	}

	der, _, err := SelfSignedDeviceCert("phone")
	if err != nil {
		t.Fatalf("SelfSignedDeviceCert() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	d.SetCertificate(cert)
	want := sha256.Sum256(cert.Raw)
	got := d.Thumbprint()
	if len(got) != sha256.Size {
		t.Fatalf("Thumbprint() length = %d, want %d", len(got), sha256.Size)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Error("Thumbprint() does not match SHA-256 of certificate")
			break
		}
	}
	if strings.Contains(d.String(), "unauthenticated") {
		t.Errorf("String() = %q after SetCertificate, want thumbprint form", d.String())
	}
}

func TestMessageTypeNames(t *testing.T) {
	if got := getMessageTypeName(CDP_MSG_CONNECT); got != "Connect" {
		t.Errorf("getMessageTypeName(CONNECT) = %q, want %q", got, "Connect")
	}
	if got := getMessageTypeName(200); !strings.Contains(got, "200") {
		t.Errorf("getMessageTypeName(200) = %q, want unknown form naming the value", got)
	}
	if got := getConnectionMessageTypeName(CONN_MSG_CONNECT_REQUEST); got != "ConnectRequest" {
		t.Errorf("getConnectionMessageTypeName(CONNECT_REQUEST) = %q, want %q", got, "ConnectRequest")
	}
	if got := getControlMessageTypeName(CTRL_MSG_START_CHANNEL_REQUEST); got != "StartChannelRequest" {
		t.Errorf("getControlMessageTypeName(START_CHANNEL_REQUEST) = %q, want %q", got, "StartChannelRequest")
	}
	if got := getDeviceTypeName(DEVICE_TYPE_LINUX); got != "Linux" {
		t.Errorf("getDeviceTypeName(LINUX) = %q, want %q", got, "Linux")
	}
}
