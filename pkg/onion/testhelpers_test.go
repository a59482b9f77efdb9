package onion

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// buildTestPacket constructs a single-hop onion packet addressed to the
// final hop (or, with final=false, to an IPv4 next hop), the way a client
// would before sending it to a node under test. expiryOffsetSeconds, if non-nil, overrides the default 5-minute
// future expiry (used to exercise the expired-packet path).
func buildTestPacket(t *testing.T, ephemeralPub, sharedSecret []byte, final bool, expiryOffsetSeconds *int) []byte {
	t.Helper()

	encKey, hmacKey, _, payloadNonceSalt, err := common.DeriveKeys(sharedSecret, hkdfSalt)
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}

	routingSlot := make([]byte, common.PerHopRoutingSize)
	if final {
		routingSlot[0] = common.AddressTypeFinal
	} else {
		routingSlot[0] = common.AddressTypeIPv4
		copy(routingSlot[1:5], []byte{127, 0, 0, 1})
	}
	binary.BigEndian.PutUint16(routingSlot[17:19], 9443)

	offset := 5 * 60
	if expiryOffsetSeconds != nil {
		offset = *expiryOffsetSeconds
	}
	expiry := time.Now().Add(time.Duration(offset) * time.Second).Unix()
	binary.BigEndian.PutUint64(routingSlot[19:27], uint64(expiry))
	binary.BigEndian.PutUint16(routingSlot[27:29], 500)

	// The routing-blob ciphertext occupies exactly RoutingBlobSize bytes
	// (nonce + AEAD tag included), so the plaintext budget is
	// RoutingBlobSize - 12 (nonce) - 16 (tag).
	routingBlobPlain := make([]byte, common.RoutingBlobSize-28)
	copy(routingBlobPlain, routingSlot)
	routingCiphertext := encryptAEADTest(t, encKey, routingBlobPlain)

	payloadKey := payloadEncKey(encKey, payloadNonceSalt)
	payloadPlain := make([]byte, common.PayloadSize-28)
	copy(payloadPlain, []byte("hello swarm"))
	payloadPadded := encryptAEADTest(t, payloadKey, payloadPlain)

	headerHMAC := common.ComputeHMAC(hmacKey, append(append([]byte{}, ephemeralPub...), routingCiphertext...))

	packet := make([]byte, common.PacketSize)
	packet[0] = common.PacketVersion
	copy(packet[1:33], ephemeralPub)
	copy(packet[33:65], headerHMAC)
	copy(packet[65:680], routingCiphertext)
	copy(packet[680:1280], payloadPadded)
	return packet
}

func encryptAEADTest(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		t.Fatalf("chacha20poly1305.New failed: %v", err)
	}
	nonce, err := common.RandomBytes(aead.NonceSize())
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	out := append([]byte{}, nonce...)
	return aead.Seal(out, nonce, plaintext, nil)
}
