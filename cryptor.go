package go_cdp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// Cryptor encrypts and authenticates CDP frame payloads once the
// connect handshake has produced a session secret. The construction is
// AES-128 CBC (128-bit key from the key schedule) over the
// payload with an HMAC-SHA256 trailer covering the serialized header
// and the ciphertext.
//
// A Cryptor is immutable after construction and safe for concurrent
// use. Nonce uniqueness is the caller's responsibility: the IV is
// derived deterministically from the header sequence number, so reusing
// a sequence number reuses an IV.
type Cryptor struct {
	block    cipher.Block
	ivBlock  cipher.Block
	hmacKey  []byte
	hmacSize int
}

// NewCryptor builds a Cryptor from the 32-byte session secret produced
// by EncryptionInfo.GenerateSharedSecret. hmacSize is the negotiated
// HMAC truncation length; zero selects the default of 32 bytes.
func NewCryptor(secret []byte, hmacSize int) (*Cryptor, error) {
	aesKey, ivKey, hmacKey, err := deriveSessionKeys(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("cdp: failed to initialize AES cipher: %w", err)
	}
	ivBlock, err := aes.NewCipher(ivKey)
	if err != nil {
		return nil, fmt.Errorf("cdp: failed to initialize IV cipher: %w", err)
	}
	if hmacSize <= 0 || hmacSize > sha256.Size {
		hmacSize = CDP_DEFAULT_HMAC_SIZE
	}
	return &Cryptor{
		block:    block,
		ivBlock:  ivBlock,
		hmacKey:  hmacKey,
		hmacSize: hmacSize,
	}, nil
}

// HmacSize returns the negotiated HMAC truncation length in bytes.
func (c *Cryptor) HmacSize() int {
	return c.hmacSize
}

// deriveIV computes the CBC initialization vector for a frame: the
// sequence number repeated across a 16-byte block, encrypted once under
// the IV key. Frames sharing a sequence number share an IV.
func (c *Cryptor) deriveIV(sequenceNumber uint32) []byte {
	var block [aes.BlockSize]byte
	for i := 0; i < aes.BlockSize; i += 4 {
		binary.BigEndian.PutUint32(block[i:], sequenceNumber)
	}
	iv := make([]byte, aes.BlockSize)
	c.ivBlock.Encrypt(iv, block[:])
	return iv
}

// Read consumes the encrypted payload region indicated by
// header.PayloadSize from raw, verifies the HMAC trailer over the
// serialized header plus ciphertext, decrypts and returns a Stream
// positioned over the plaintext. Returns ErrCryptoIntegrity when the
// HMAC does not verify or the ciphertext is malformed.
func (c *Cryptor) Read(header *CommonHeader, raw *Stream) (*Stream, error) {
	ciphertext, err := raw.ReadFixed(int(header.PayloadSize))
	if err != nil {
		return nil, fmt.Errorf("cdp: short encrypted payload: %w", err)
	}
	tag, err := raw.ReadFixed(c.hmacSize)
	if err != nil {
		return nil, fmt.Errorf("cdp: missing HMAC trailer: %w", err)
	}
	headerBytes, err := header.Bytes()
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, c.computeHmac(headerBytes, ciphertext)) != 1 {
		return nil, ErrCryptoIntegrity
	}
	plaintext, err := c.decrypt(ciphertext, header.SequenceNumber)
	if err != nil {
		return nil, err
	}
	return NewStream(plaintext), nil
}

// EncryptMessage invokes bodyFn against a scratch buffer, then writes
// the adjusted header, the ciphertext and the HMAC trailer to out as
// one contiguous region. The header's PayloadSize and crypto flags are
// updated in place before serialization.
func (c *Cryptor) EncryptMessage(out *Stream, header *CommonHeader, bodyFn func(*Stream) error) error {
	body := NewStreamPooled(1024)
	defer ReleaseStream(body)
	if err := bodyFn(body); err != nil {
		return err
	}
	ciphertext := c.encrypt(body.Bytes(), header.SequenceNumber)
	header.PayloadSize = uint32(len(ciphertext))
	header.Flags |= CDP_FLAG_HAS_HMAC | CDP_FLAG_SESSION_ENCRYPTED
	headerBytes, err := header.Bytes()
	if err != nil {
		return err
	}
	if _, err := out.Write(headerBytes); err != nil {
		return err
	}
	if _, err := out.Write(ciphertext); err != nil {
		return err
	}
	_, err = out.Write(c.computeHmac(headerBytes, ciphertext))
	return err
}

// encrypt pads the plaintext to the AES block size (PKCS#7) and
// encrypts it in CBC mode under the frame IV.
func (c *Cryptor) encrypt(plaintext []byte, sequenceNumber uint32) []byte {
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	cipher.NewCBCEncrypter(c.block, c.deriveIV(sequenceNumber)).CryptBlocks(padded, padded)
	return padded
}

// decrypt reverses encrypt, validating block alignment and the PKCS#7
// padding. Malformed padding is reported as an integrity failure since
// it only occurs under tampering or key mismatch.
func (c *Cryptor) decrypt(ciphertext []byte, sequenceNumber uint32) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cdp: ciphertext length %d not block aligned: %w", len(ciphertext), ErrCryptoIntegrity)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.deriveIV(sequenceNumber)).CryptBlocks(plaintext, ciphertext)
	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, fmt.Errorf("cdp: invalid padding: %w", ErrCryptoIntegrity)
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("cdp: invalid padding: %w", ErrCryptoIntegrity)
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

// computeHmac returns the truncated HMAC-SHA256 tag over the serialized
// header followed by the ciphertext.
func (c *Cryptor) computeHmac(headerBytes, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(headerBytes)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:c.hmacSize]
}
