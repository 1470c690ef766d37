package go_cdp

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// EncryptionInfo holds one side's contribution to the CDP key agreement:
// a NIST P-256 keypair, a 64-byte handshake nonce and an optional device
// certificate. Local instances carry the private key; remote instances
// wrap only the peer's public point and nonce.
type EncryptionInfo struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	nonce      [CDP_NONCE_SIZE]byte
	cert       *x509.Certificate
	certDER    []byte
	signer     *ecdsa.PrivateKey
}

// CreateEncryptionInfo generates a fresh P-256 keypair and handshake
// nonce for this endpoint.
func CreateEncryptionInfo() (*EncryptionInfo, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cdp: failed to generate P-256 keypair: %w", err)
	}
	info := &EncryptionInfo{
		privateKey: priv,
		publicKey:  priv.PublicKey(),
	}
	if _, err := io.ReadFull(rand.Reader, info.nonce[:]); err != nil {
		return nil, fmt.Errorf("cdp: failed to generate handshake nonce: %w", err)
	}
	Debug("Generated local encryption info: nonce=%x...", info.nonce[:8])
	return info, nil
}

// RemoteEncryptionInfo wraps a peer public key received during the
// connect handshake. x and y are the big-endian affine coordinates of
// the peer's P-256 point; nonce is the peer's 64-byte handshake nonce.
func RemoteEncryptionInfo(x, y []byte, nonce []byte) (*EncryptionInfo, error) {
	if len(nonce) != CDP_NONCE_SIZE {
		return nil, fmt.Errorf("cdp: remote nonce must be %d bytes, got %d", CDP_NONCE_SIZE, len(nonce))
	}
	// crypto/ecdh wants the uncompressed SEC1 encoding: 0x04 || X || Y
	// with both coordinates left-padded to 32 bytes.
	point := make([]byte, 0, 65)
	point = append(point, 0x04)
	point = append(point, leftPad(x, 32)...)
	point = append(point, leftPad(y, 32)...)
	pub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("cdp: invalid remote public key: %w", err)
	}
	info := &EncryptionInfo{publicKey: pub}
	copy(info.nonce[:], nonce)
	return info, nil
}

// Nonce returns the handshake nonce.
func (info *EncryptionInfo) Nonce() []byte {
	return info.nonce[:]
}

// PublicKeyXY returns the affine coordinates of the P-256 public point
// as 32-byte big-endian slices, the form the connect messages carry.
func (info *EncryptionInfo) PublicKeyXY() (x, y []byte) {
	raw := info.publicKey.Bytes() // 0x04 || X || Y
	return raw[1:33], raw[33:65]
}

// SetCertificate attaches this endpoint's device certificate and its
// ECDSA signing key, used to produce authentication payloads.
func (info *EncryptionInfo) SetCertificate(der []byte, signer *ecdsa.PrivateKey) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("cdp: failed to parse device certificate: %w", err)
	}
	info.cert = cert
	info.certDER = der
	info.signer = signer
	return nil
}

// Certificate returns the attached device certificate, or nil.
func (info *EncryptionInfo) Certificate() *x509.Certificate {
	return info.cert
}

// CertificateDER returns the DER encoding of the attached device
// certificate, or nil.
func (info *EncryptionInfo) CertificateDER() []byte {
	return info.certDER
}

// GenerateSharedSecret performs the P-256 ECDH agreement with the
// remote public key and derives the 32-byte session secret.
//
// Key schedule: the raw ECDH output is mixed with both handshake nonces
// through SHA-512 and the first 32 bytes of the digest become the
// session secret the Cryptor is keyed from. The nonces are concatenated
// in ascending byte order so both endpoints derive the same secret
// without agreeing on a role convention first.
func (info *EncryptionInfo) GenerateSharedSecret(remote *EncryptionInfo) ([]byte, error) {
	if info.privateKey == nil {
		return nil, fmt.Errorf("cdp: local encryption info has no private key")
	}
	if remote == nil || remote.publicKey == nil {
		return nil, fmt.Errorf("cdp: remote encryption info has no public key")
	}
	ecdhSecret, err := info.privateKey.ECDH(remote.publicKey)
	if err != nil {
		return nil, fmt.Errorf("cdp: ECDH agreement failed: %w", err)
	}
	lo, hi := info.nonce[:], remote.nonce[:]
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	digest := sha512.New()
	digest.Write(ecdhSecret)
	digest.Write(lo)
	digest.Write(hi)
	sum := digest.Sum(nil)
	Debug("Derived session secret from ECDH agreement")
	return sum[:32], nil
}

// deriveSessionKeys expands the 32-byte session secret into the AES
// key, IV key and HMAC key the Cryptor uses, via HKDF-SHA512.
func deriveSessionKeys(secret []byte) (aesKey, ivKey, hmacKey []byte, err error) {
	if len(secret) != 32 {
		return nil, nil, nil, fmt.Errorf("cdp: session secret must be 32 bytes, got %d", len(secret))
	}
	r := hkdf.New(sha512.New, secret, nil, []byte("CDP session keys"))
	aesKey = make([]byte, 16)
	ivKey = make([]byte, 16)
	hmacKey = make([]byte, 32)
	if _, err = io.ReadFull(r, aesKey); err != nil {
		return nil, nil, nil, fmt.Errorf("cdp: key expansion failed: %w", err)
	}
	if _, err = io.ReadFull(r, ivKey); err != nil {
		return nil, nil, nil, fmt.Errorf("cdp: key expansion failed: %w", err)
	}
	if _, err = io.ReadFull(r, hmacKey); err != nil {
		return nil, nil, nil, fmt.Errorf("cdp: key expansion failed: %w", err)
	}
	return aesKey, ivKey, hmacKey, nil
}

// SignNonces produces this endpoint's authentication thumbprint: an
// ECDSA P-256 signature by the device certificate key over the local
// nonce followed by the remote nonce.
func (info *EncryptionInfo) SignNonces(remote *EncryptionInfo) ([]byte, error) {
	if info.signer == nil {
		return nil, fmt.Errorf("cdp: no signing key attached to local encryption info")
	}
	if remote == nil {
		return nil, ErrInvalidArgument
	}
	msg := make([]byte, 0, 2*CDP_NONCE_SIZE)
	msg = append(msg, info.nonce[:]...)
	msg = append(msg, remote.nonce[:]...)
	digest := sha512.Sum512_256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, info.signer, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cdp: thumbprint signing failed: %w", err)
	}
	return sig, nil
}

// VerifyThumbprint checks a peer authentication signature against the
// peer certificate and the handshake nonces. The peer signs (its nonce,
// our nonce), so verification swaps the order SignNonces uses.
func VerifyThumbprint(peerCert *x509.Certificate, signature []byte, peerNonce, localNonce []byte) error {
	pub, ok := peerCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("cdp: peer certificate key is not ECDSA: %w", ErrInvalidThumbprint)
	}
	msg := make([]byte, 0, 2*CDP_NONCE_SIZE)
	msg = append(msg, peerNonce...)
	msg = append(msg, localNonce...)
	digest := sha512.Sum512_256(msg)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return ErrInvalidThumbprint
	}
	return nil
}

// SelfSignedDeviceCert generates a throwaway P-256 device certificate
// and key for endpoints provisioned without a trust store.
func SelfSignedDeviceCert(name string) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cdp: failed to generate device key: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
	}
	tmpl.Subject.CommonName = name
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("cdp: failed to create device certificate: %w", err)
	}
	return der, key, nil
}

// leftPad returns b left-padded with zeros to n bytes. Coordinates
// shorter than the field size arrive when the leading bytes are zero.
func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
