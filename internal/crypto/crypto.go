// Package crypto implements the secure-channel primitives: X25519 key
// agreement and ChaCha20-Poly1305 envelope encryption.
//
// Private scalars never leave this package except as hex for storage; they
// must never be logged.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/omnicore/omnid/internal/errs"
)

const (
	// KeySize is the byte length of X25519 keys and derived shared secrets.
	KeySize = 32
	// NonceSize is the AEAD nonce length.
	NonceSize = chacha20poly1305.NonceSize
)

// errDecrypt is the single failure mode for Envelope.Open. Malformed base64,
// a wrong-length nonce, a tampered ciphertext and a wrong key are
// indistinguishable to the caller.
var errDecrypt = errs.New(errs.KindCrypto, "decryption failed")

// Keypair is an X25519 private scalar and its derived public point.
type Keypair struct {
	private [KeySize]byte
	public  [KeySize]byte
}

// GenerateKeypair returns a fresh keypair. The private scalar is clamped per
// RFC 7748.
func GenerateKeypair() (*Keypair, error) {
	var kp Keypair
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, err
	}
	clamp(&kp.private)
	curve25519.ScalarBaseMult(&kp.public, &kp.private)
	return &kp, nil
}

// KeypairFromPrivateHex rebuilds a keypair from a stored hex private scalar.
func KeypairFromPrivateHex(privHex string) (*Keypair, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != KeySize {
		return nil, errs.New(errs.KindValidation, "invalid private key (expected 64 hex characters)")
	}
	var kp Keypair
	copy(kp.private[:], raw)
	curve25519.ScalarBaseMult(&kp.public, &kp.private)
	return &kp, nil
}

// PublicKey returns the public point.
func (k *Keypair) PublicKey() [KeySize]byte { return k.public }

// PublicKeyHex returns the hex-encoded public point.
func (k *Keypair) PublicKeyHex() string { return hex.EncodeToString(k.public[:]) }

// PrivateKeyHex returns the hex-encoded private scalar for persistence.
func (k *Keypair) PrivateKeyHex() string { return hex.EncodeToString(k.private[:]) }

// DeriveSharedSecret computes the X25519 shared secret with a peer's public
// key. Both sides of an exchange derive the same value.
func (k *Keypair) DeriveSharedSecret(peerPublic [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	secret, err := curve25519.X25519(k.private[:], peerPublic[:])
	if err != nil {
		return out, errs.Wrap(errs.KindCrypto, "key agreement failed", err)
	}
	copy(out[:], secret)
	return out, nil
}

// Envelope is the transport form of an encrypted payload. Both fields are
// standard base64 text.
type Envelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts plaintext under key with a fresh random nonce. A nonce is
// never reused: every call draws new randomness.
func Seal(plaintext []byte, key [KeySize]byte) (Envelope, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Envelope{}, errs.Wrap(errs.KindCrypto, "invalid key", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open decrypts the envelope under key. It fails closed: any malformed or
// tampered input yields the same generic error and no plaintext.
func (e Envelope) Open(key [KeySize]byte) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return nil, errDecrypt
	}
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, errDecrypt
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errDecrypt
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errDecrypt
	}
	return pt, nil
}

// ParsePublicKey decodes a hex public key, requiring exactly 64 hex
// characters (32 bytes).
func ParsePublicKey(hexKey string) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != KeySize {
		return out, errs.New(errs.KindValidation, "invalid public key format (expected 64 hex characters)")
	}
	copy(out[:], raw)
	return out, nil
}

func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
