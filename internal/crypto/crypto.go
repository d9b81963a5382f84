// Package crypto decrypts Wireless M-Bus application payloads. Only the
// link-layer modes the shipped meters use are implemented: mode 0 (no
// encryption) and mode 5 (AES-128-CBC with the EN 13757 derived IV).
//
// Keys are held only for the duration of a call and never logged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"gitlab.com/d21d3q/wmbusd/internal/frame"
)

var (
	// ErrKeyRequired reports an encrypted telegram with no key configured.
	ErrKeyRequired = errors.New("encrypted telegram: AES key required")
	// ErrKeyRejected reports a decryption whose plaintext failed the
	// sanity check, which usually means a wrong key.
	ErrKeyRejected = errors.New("encrypted telegram: AES key rejected (bad plaintext)")
	// ErrUnsupportedMode reports a security mode this package does not
	// implement.
	ErrUnsupportedMode = errors.New("unsupported security mode")
)

const securityModeAESCBC = 5

// Decrypt replaces t.Payload with plaintext when the telegram announces
// an encrypted payload. The raw frame bytes stay untouched; the payload
// slice is reassigned, never overwritten in place.
func Decrypt(t *frame.Telegram, key []byte) error {
	if !needsDecryption(t) {
		return nil
	}
	if t.TPL.Present && t.TPL.SecurityMode != securityModeAESCBC {
		return fmt.Errorf("%w: mode %d", ErrUnsupportedMode, t.TPL.SecurityMode)
	}
	if len(key) == 0 {
		return ErrKeyRequired
	}
	return decryptCBC(t, key)
}

func decryptCBC(t *frame.Telegram, key []byte) error {
	required := encryptedPrefixLen(t)
	if required == 0 {
		return ErrKeyRejected
	}
	if required > len(t.Payload) {
		return fmt.Errorf("encrypted section exceeds payload length (%d > %d)", required, len(t.Payload))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("invalid AES key: %w", err)
	}
	plaintext := make([]byte, required)
	copy(plaintext, t.Payload[:required])
	cipher.NewCBCDecrypter(block, deriveIV(t)).CryptBlocks(plaintext, plaintext)
	if !plausiblePlaintext(t, plaintext) {
		return ErrKeyRejected
	}
	plaintext = append(plaintext, t.Payload[required:]...)
	// Several manufacturers lead with the 0x2F2F verification marker.
	if len(plaintext) >= 2 && plaintext[0] == 0x2F && plaintext[1] == 0x2F {
		plaintext = plaintext[2:]
	}
	t.Payload = plaintext
	return nil
}

// deriveIV builds the mode 5 initialization vector: manufacturer (LE),
// meter id, version, device type, then the access number repeated.
func deriveIV(t *frame.Telegram) []byte {
	iv := make([]byte, aes.BlockSize)
	iv[0] = byte(t.Manufacturer)
	iv[1] = byte(t.Manufacturer >> 8)
	copy(iv[2:6], t.MeterID[:])
	iv[6] = t.Version
	iv[7] = t.DeviceType
	for i := 8; i < aes.BlockSize; i++ {
		iv[i] = t.AccessNumber
	}
	return iv
}

// plausiblePlaintext is the wrong-key sanity check. When the TPL
// declares its encrypted block count the plaintext must open with the
// 0x2F2F verification marker. Not every manufacturer emits the marker
// on implicit-length telegrams, so those only need a valid first DIF;
// a mismatch means likely-wrong-key, not a hard failure.
func plausiblePlaintext(t *frame.Telegram, b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if t.TPL.Present && t.TPL.EncryptedBlocks > 0 {
		return b[0] == 0x2F && b[1] == 0x2F
	}
	if b[0] == 0x2F {
		return true
	}
	return b[0]&0x0F <= 0x0D
}

// The security mode lives in the TPL configuration word; a telegram
// without a TPL is mode 0 by definition.
func needsDecryption(t *frame.Telegram) bool {
	if len(t.Payload) == 0 {
		return false
	}
	return t.TPL.Present && t.TPL.SecurityMode != 0
}

// encryptedPrefixLen returns how many payload bytes the TPL declares as
// ciphertext, clamped to whole AES blocks inside the payload.
func encryptedPrefixLen(t *frame.Telegram) int {
	payloadLen := len(t.Payload)
	if payloadLen == 0 {
		return 0
	}
	if t.TPL.Present && t.TPL.EncryptedBlocks > 0 {
		needed := t.TPL.EncryptedBlocks * aes.BlockSize
		if needed > payloadLen {
			needed = payloadLen
		}
		return needed - needed%aes.BlockSize
	}
	return payloadLen - payloadLen%aes.BlockSize
}
