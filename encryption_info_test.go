package go_cdp

import (
	"bytes"
	"crypto/x509"
	"errors"
	"testing"
)

func TestSharedSecretRoleIndependent(t *testing.T) {
	a, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	b, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}

	ax, ay := a.PublicKeyXY()
	bx, by := b.PublicKeyXY()
	remoteB, err := RemoteEncryptionInfo(bx, by, b.Nonce())
	if err != nil {
		t.Fatalf("RemoteEncryptionInfo() error = %v", err)
	}
	remoteA, err := RemoteEncryptionInfo(ax, ay, a.Nonce())
	if err != nil {
		t.Fatalf("RemoteEncryptionInfo() error = %v", err)
	}

	secretA, err := a.GenerateSharedSecret(remoteB)
	if err != nil {
		t.Fatalf("a.GenerateSharedSecret() error = %v", err)
	}
	secretB, err := b.GenerateSharedSecret(remoteA)
	if err != nil {
		t.Fatalf("b.GenerateSharedSecret() error = %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Error("endpoints derived different session secrets")
	}
	if len(secretA) != 32 {
		t.Errorf("session secret length = %d, want 32", len(secretA))
	}
}

func TestRemoteEncryptionInfoRejectsBadNonce(t *testing.T) {
	a, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	x, y := a.PublicKeyXY()
	if _, err := RemoteEncryptionInfo(x, y, make([]byte, 16)); err == nil {
		t.Error("RemoteEncryptionInfo() with 16-byte nonce succeeded, want error")
	}
}

func TestRemoteEncryptionInfoRejectsBadPoint(t *testing.T) {
	nonce := make([]byte, CDP_NONCE_SIZE)
	x := bytes.Repeat([]byte{0xFF}, 32)
	y := bytes.Repeat([]byte{0xFF}, 32)
	if _, err := RemoteEncryptionInfo(x, y, nonce); err == nil {
		t.Error("RemoteEncryptionInfo() with off-curve point succeeded, want error")
	}
}

func TestGenerateSharedSecretRequiresPrivateKey(t *testing.T) {
	a, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	x, y := a.PublicKeyXY()
	remote, err := RemoteEncryptionInfo(x, y, a.Nonce())
	if err != nil {
		t.Fatalf("RemoteEncryptionInfo() error = %v", err)
	}
	if _, err := remote.GenerateSharedSecret(a); err == nil {
		t.Error("GenerateSharedSecret() without private key succeeded, want error")
	}
}

func TestSignAndVerifyThumbprint(t *testing.T) {
	der, signer, err := SelfSignedDeviceCert("thumbprint-device")
	if err != nil {
		t.Fatalf("SelfSignedDeviceCert() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}

	local, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	if err := local.SetCertificate(der, signer); err != nil {
		t.Fatalf("SetCertificate() error = %v", err)
	}
	remote, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}

	sig, err := local.SignNonces(remote)
	if err != nil {
		t.Fatalf("SignNonces() error = %v", err)
	}
	// The verifier sees local as the peer: the signature covers
	// (peer nonce, verifier nonce).
	if err := VerifyThumbprint(cert, sig, local.Nonce(), remote.Nonce()); err != nil {
		t.Errorf("VerifyThumbprint() error = %v, want nil", err)
	}
	if err := VerifyThumbprint(cert, sig, remote.Nonce(), local.Nonce()); !errors.Is(err, ErrInvalidThumbprint) {
		t.Errorf("VerifyThumbprint() with swapped nonces error = %v, want ErrInvalidThumbprint", err)
	}
}

func TestSignNoncesRequiresSigner(t *testing.T) {
	local, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	remote, err := CreateEncryptionInfo()
	if err != nil {
		t.Fatalf("CreateEncryptionInfo() error = %v", err)
	}
	if _, err := local.SignNonces(remote); err == nil {
		t.Error("SignNonces() without signer succeeded, want error")
	}
}

func TestDeriveSessionKeysDistinct(t *testing.T) {
	aesKey, ivKey, hmacKey, err := deriveSessionKeys(testSecret())
	if err != nil {
		t.Fatalf("deriveSessionKeys() error = %v", err)
	}
	if len(aesKey) != 16 || len(ivKey) != 16 || len(hmacKey) != 32 {
		t.Errorf("key lengths = %d/%d/%d, want 16/16/32", len(aesKey), len(ivKey), len(hmacKey))
	}
	if bytes.Equal(aesKey, ivKey) {
		t.Error("AES key equals IV key")
	}
	if _, _, _, err := deriveSessionKeys(make([]byte, 31)); err == nil {
		t.Error("deriveSessionKeys() with 31-byte secret succeeded, want error")
	}
}

func TestLeftPad(t *testing.T) {
	got := leftPad([]byte{0xAB}, 4)
	if !bytes.Equal(got, []byte{0, 0, 0, 0xAB}) {
		t.Errorf("leftPad([ab], 4) = %x, want 000000ab", got)
	}
	got = leftPad([]byte{1, 2, 3, 4, 5}, 4)
	if !bytes.Equal(got, []byte{2, 3, 4, 5}) {
		t.Errorf("leftPad([0102030405], 4) = %x, want 02030405", got)
	}
}
