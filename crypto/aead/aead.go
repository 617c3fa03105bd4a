// Package aead implements the ratchet's message-key-keyed AEAD: AES-256-CBC
// encryption under a key split out of the message key by HKDF, authenticated
// with an HMAC-SHA256 tag computed over the associated data and ciphertext.
// This is the same encrypt-then-MAC construction the teacher's double
// ratchet uses, generalized for the LoRaRatchet chain.
package aead

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	stdhmac "crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"lora-ratchet/crypto/hkdf"
	"lora-ratchet/crypto/hmac"
)

var (
	ErrCiphertextTooShort = errors.New("aead: ciphertext shorter than a tag")
	ErrInvalidTag         = errors.New("aead: authentication tag mismatch")
)

// hkdfInfo salts the message-key split so it can never collide with the
// ratchet chain's own root/chain-key KDF invocations.
var hkdfInfo = []byte("LoRaRatchetMessageKey")

const tagSize = sha256.Size

// Seal derives (encKey, authKey, iv) from mk via HKDF, CBC-encrypts
// plaintext under encKey/iv, and appends an HMAC-SHA256 tag over
// associatedData||ciphertext.
func Seal(mk [32]byte, plaintext, associatedData []byte) ([]byte, error) {
	encKey, authKey, iv, err := splitKeys(mk)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, padded)

	tag := hmac.Hash(sha256.New, authKey[:], append(append([]byte{}, associatedData...), ciphertext...))
	return append(ciphertext, tag...), nil
}

// Open verifies the trailing tag and CBC-decrypts the remainder.
func Open(mk [32]byte, sealed, associatedData []byte) ([]byte, error) {
	if len(sealed) < tagSize {
		return nil, ErrCiphertextTooShort
	}
	ciphertext := sealed[:len(sealed)-tagSize]
	gotTag := sealed[len(sealed)-tagSize:]

	encKey, authKey, iv, err := splitKeys(mk)
	if err != nil {
		return nil, err
	}

	wantTag := hmac.Hash(sha256.New, authKey[:], append(append([]byte{}, associatedData...), ciphertext...))
	if !stdhmac.Equal(gotTag, wantTag) {
		return nil, ErrInvalidTag
	}

	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrCiphertextTooShort
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext), nil
}

func splitKeys(mk [32]byte) (encKey, authKey [32]byte, iv [16]byte, err error) {
	buf := make([]byte, 80)
	if n, derivErr := hkdf.KDF(sha256.New, mk[:], nil, hkdfInfo, buf); derivErr != nil {
		return encKey, authKey, iv, derivErr
	} else if n != 80 {
		return encKey, authKey, iv, io.ErrShortBuffer
	}
	copy(encKey[:], buf[:32])
	copy(authKey[:], buf[32:64])
	copy(iv[:], buf[64:])
	return encKey, authKey, iv, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	unpadding := int(data[len(data)-1])
	if unpadding <= 0 || unpadding > len(data) {
		return data
	}
	return data[:len(data)-unpadding]
}

// NewRandomIV is exposed for tests that need a standalone IV outside the
// HKDF-derived path.
func NewRandomIV() ([16]byte, error) {
	var iv [16]byte
	_, err := rand.Read(iv[:])
	return iv, err
}
