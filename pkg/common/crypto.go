package common

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateKeypair generates an Ed25519 keypair, the node's long-term
// identity.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// X25519KeyPair generates a Curve25519 keypair for ECDH.
func X25519KeyPair() (publicKey, privateKey []byte, err error) {
	privateKey = make([]byte, 32)
	if _, err := rand.Read(privateKey); err != nil {
		return nil, nil, err
	}

	publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, privateKey, nil
}

// EdPrivateKeyToCurve25519 converts an Ed25519 private key to the Curve25519
// scalar used for X25519 ECDH. This mirrors libsodium's
// crypto_sign_ed25519_sk_to_curve25519: hash the 32-byte seed with SHA-512
// and clamp the low half, per RFC 7748 §5 / the Ed25519 birational map.
// Copying the seed directly (as older drafts of this package did) yields a
// scalar that does not correspond to the Ed25519 public key at all and
// silently breaks every ECDH performed with it.
func EdPrivateKeyToCurve25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	scalar := h[:32]
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}

// curve25519FieldPrime is 2^255 - 19, the field modulus shared by the
// Edwards and Montgomery forms of Curve25519.
var curve25519FieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// EdPublicKeyToCurve25519 converts an Ed25519 public key to its Curve25519
// (Montgomery u-coordinate) equivalent, using the standard birational map
// between the twisted Edwards and Montgomery forms of Curve25519:
// u = (1+y)/(1-y) mod p.
func EdPublicKeyToCurve25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key length")
	}

	// Ed25519 encodes the point as little-endian y with the x sign bit
	// stashed in the top bit of the last byte; strip it before decoding y.
	yBytes := make([]byte, 32)
	copy(yBytes, pub)
	yBytes[31] &= 0x7f
	y := new(big.Int).SetBytes(reverseBytes(yBytes))

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, curve25519FieldPrime)

	denom := new(big.Int).Sub(one, y)
	denom.Mod(denom, curve25519FieldPrime)
	if denom.Sign() == 0 {
		return nil, errors.New("invalid point: y == 1")
	}
	denom.ModInverse(denom, curve25519FieldPrime)

	u := num.Mul(num, denom)
	u.Mod(u, curve25519FieldPrime)

	out := make([]byte, 32)
	uBytes := u.Bytes()
	for i := 0; i < len(uBytes) && i < 32; i++ {
		out[i] = uBytes[len(uBytes)-1-i]
	}
	return out, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// X25519ECDH performs Curve25519 ECDH.
func X25519ECDH(privateKey, publicKey []byte) ([]byte, error) {
	if len(privateKey) != 32 || len(publicKey) != 32 {
		return nil, errors.New("invalid key length")
	}

	sharedSecret, err := curve25519.X25519(privateKey, publicKey)
	if err != nil {
		return nil, err
	}

	return sharedSecret, nil
}

// DeriveKeys derives the encryption, HMAC, blinding, and payload-nonce-salt
// keys from a shared secret, 32 bytes each. The fourth output is the HMAC
// key the onion router uses to derive a payload key distinct from encKey,
// so the routing-blob and payload AEAD operations performed with the same
// shared secret never share a key.
func DeriveKeys(sharedSecret []byte, salt string) (encKey, hmacKey, blindingFactor, payloadNonceSalt []byte, err error) {
	hkdfReader := hkdf.New(sha256.New, sharedSecret, []byte(salt), []byte("GhostTalk-v1-hop-keys"))

	derived := make([]byte, 128)
	if _, err := io.ReadFull(hkdfReader, derived); err != nil {
		return nil, nil, nil, nil, err
	}

	encKey = derived[0:32]
	hmacKey = derived[32:64]
	blindingFactor = derived[64:96]
	payloadNonceSalt = derived[96:128]

	return encKey, hmacKey, blindingFactor, payloadNonceSalt, nil
}

// ComputeHMAC computes HMAC-SHA256.
func ComputeHMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMAC verifies HMAC in constant time.
func VerifyHMAC(expected, computed []byte) bool {
	return hmac.Equal(expected, computed)
}

// BlindPublicKey advances a Curve25519 public key by a blinding factor via
// genuine scalar multiplication on the curve: blinded = blindingFactor * P.
// This is the same telescoping-blind construction used by Sphinx-style
// mixnets (e.g. the Lightning onion's per-hop blinding) to keep the
// ephemeral key unlinkable across hops while still letting each hop derive
// the correct shared secret through its own ECDH.
func BlindPublicKey(publicKey, blindingFactor []byte) ([]byte, error) {
	if len(publicKey) != 32 || len(blindingFactor) != 32 {
		return nil, errors.New("invalid key length")
	}
	return curve25519.X25519(blindingFactor, publicKey)
}

// RandomBytes generates cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Hash256 computes SHA-256 hash.
func Hash256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}
