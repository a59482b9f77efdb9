// Package onion implements per-hop processing of Sphinx-style onion
// packets: ECDH key agreement against the node's long-term identity,
// routing-slot decryption, replay detection, and either local delivery or
// forwarding to the next hop with a re-blinded ephemeral key.
package onion

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/codec"
	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/replay"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	replayShardCap = 100_000
	hkdfSalt       = "GhostTalk-v1"
)

// Router handles onion packet processing for one service node.
type Router struct {
	privateKey        ed25519.PrivateKey
	publicKey         ed25519.PublicKey
	curve25519PrivKey []byte

	seen *replay.Set

	packetsProcessed uint64
	packetsForwarded uint64
	packetsDelivered uint64
	packetsDropped   uint64
}

// NewRouter creates a new onion router bound to the node's long-term
// Ed25519 identity.
func NewRouter(privateKey ed25519.PrivateKey) *Router {
	return &Router{
		privateKey:        privateKey,
		publicKey:         privateKey.Public().(ed25519.PublicKey),
		curve25519PrivKey: common.EdPrivateKeyToCurve25519(privateKey),
		seen:              replay.NewSet(common.ReplayWindow, replayShardCap),
	}
}

// Close stops the router's background replay-cache sweep.
func (r *Router) Close() {
	r.seen.Close()
}

// ProcessPacket processes an onion packet and returns a routing decision.
// Validation proceeds in a fixed order — structure, replay, key agreement,
// authentication, then decryption — so that a malformed packet never
// reaches decryption and a forged packet never reaches the replay cache's
// happy path twice.
func (r *Router) ProcessPacket(packet []byte) (*RoutingDecision, error) {
	onionPkt, err := codec.Decode(packet)
	if err != nil {
		r.packetsDropped++
		return nil, common.NewError(common.KindInvalidPacket, "onion.ProcessPacket", err)
	}

	if onionPkt.Version != common.PacketVersion {
		r.packetsDropped++
		return nil, common.NewError(common.KindInvalidPacket, "onion.ProcessPacket",
			fmt.Errorf("unsupported version: 0x%02x", onionPkt.Version))
	}

	hmacKey := fmt.Sprintf("%x", onionPkt.HeaderHMAC)
	if r.seen.SeenOrRecord(hmacKey) {
		r.packetsDropped++
		return nil, common.NewError(common.KindReplayDetected, "onion.ProcessPacket", nil)
	}

	sharedSecret, err := common.X25519ECDH(r.curve25519PrivKey, onionPkt.EphemeralKey)
	if err != nil {
		r.packetsDropped++
		return nil, common.NewError(common.KindRoutingDecryptFailed, "onion.ProcessPacket", err)
	}

	encKey, hmacKeyBytes, blindingFactor, payloadNonceSalt, err := common.DeriveKeys(sharedSecret, hkdfSalt)
	if err != nil {
		r.packetsDropped++
		return nil, common.NewError(common.KindInternal, "onion.ProcessPacket", err)
	}

	computedHMAC := common.ComputeHMAC(hmacKeyBytes, append(append([]byte{}, onionPkt.EphemeralKey...), onionPkt.RoutingBlob...))
	if !common.VerifyHMAC(onionPkt.HeaderHMAC, computedHMAC) {
		r.packetsDropped++
		return nil, common.NewError(common.KindHMACFailed, "onion.ProcessPacket", nil)
	}

	routingInfo, err := decryptAEAD(encKey, onionPkt.RoutingBlob)
	if err != nil {
		r.packetsDropped++
		return nil, common.NewError(common.KindRoutingDecryptFailed, "onion.ProcessPacket", err)
	}

	routing, err := codec.DecodeRoutingInfo(routingInfo)
	if err != nil {
		r.packetsDropped++
		return nil, common.NewError(common.KindInvalidPacket, "onion.ProcessPacket", err)
	}

	if time.Now().After(routing.Expiry) {
		r.packetsDropped++
		return nil, common.NewError(common.KindPacketExpired, "onion.ProcessPacket", nil)
	}

	r.packetsProcessed++

	if routing.AddressType == common.AddressTypeFinal {
		r.packetsDelivered++

		payloadKey := payloadEncKey(encKey, payloadNonceSalt)
		payload, err := decryptAEAD(payloadKey, onionPkt.EncryptedPayload)
		if err != nil {
			return nil, common.NewError(common.KindPayloadDecryptFailed, "onion.ProcessPacket", err)
		}

		return &RoutingDecision{
			Action:  ActionDeliver,
			Payload: payload,
			Delay:   time.Duration(routing.Delay) * time.Millisecond,
		}, nil
	}

	r.packetsForwarded++

	nextEphemeralKey, err := common.BlindPublicKey(onionPkt.EphemeralKey, blindingFactor)
	if err != nil {
		return nil, common.NewError(common.KindInternal, "onion.ProcessPacket", err)
	}

	nextRoutingBlob := make([]byte, common.RoutingBlobSize)
	copy(nextRoutingBlob, routingInfo[common.PerHopRoutingSize:])

	nextHMAC := common.ComputeHMAC(hmacKeyBytes, append(append([]byte{}, nextEphemeralKey...), nextRoutingBlob...))
	nextPacket := codec.Encode(nextEphemeralKey, nextHMAC, nextRoutingBlob, onionPkt.EncryptedPayload)

	nextAddress, err := codec.FormatAddress(routing)
	if err != nil {
		return nil, common.NewError(common.KindInvalidPacket, "onion.ProcessPacket", err)
	}

	return &RoutingDecision{
		Action:      ActionForward,
		NextAddress: nextAddress,
		NextPacket:  nextPacket,
		Delay:       time.Duration(routing.Delay) * time.Millisecond,
	}, nil
}

// payloadEncKey derives a key distinct from the routing-blob key so that
// the two AEAD operations performed against the same hop secret never
// reuse an encryption key/nonce pair.
func payloadEncKey(encKey, payloadNonceSalt []byte) []byte {
	return common.ComputeHMAC(payloadNonceSalt, encKey)[:chacha20poly1305.KeySize]
}

func decryptAEAD(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:aead.NonceSize()]
	return aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
}

// GetStats returns router statistics.
func (r *Router) GetStats() Stats {
	return Stats{
		PacketsProcessed: r.packetsProcessed,
		PacketsForwarded: r.packetsForwarded,
		PacketsDelivered: r.packetsDelivered,
		PacketsDropped:   r.packetsDropped,
	}
}

// RoutingDecision represents the result of packet processing.
type RoutingDecision struct {
	Action      Action
	NextAddress string // for forwarding
	NextPacket  []byte // for forwarding
	Payload     []byte // for delivery
	Delay       time.Duration
}

// Action defines what to do with a processed packet.
type Action int

const (
	ActionForward Action = iota
	ActionDeliver
)

// Stats contains router statistics.
type Stats struct {
	PacketsProcessed uint64
	PacketsForwarded uint64
	PacketsDelivered uint64
	PacketsDropped   uint64
}
