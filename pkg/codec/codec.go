// Package codec implements the wire format of the 1280-byte onion packet
// and its 205-byte-per-hop routing slots.
package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
)

// Decode parses raw bytes into an OnionPacket. The returned slices alias
// data; callers must not mutate data while the OnionPacket is in use.
func Decode(data []byte) (*common.OnionPacket, error) {
	if len(data) != common.PacketSize {
		return nil, fmt.Errorf("invalid packet size: %d", len(data))
	}

	return &common.OnionPacket{
		Version:          data[0],
		EphemeralKey:     data[1:33],
		HeaderHMAC:       data[33:65],
		RoutingBlob:      data[65:680],
		EncryptedPayload: data[680:1280],
	}, nil
}

// Encode assembles a packet from its fields, used when forwarding to the
// next hop.
func Encode(ephemeralKey, hmac, routingBlob, payload []byte) []byte {
	packet := make([]byte, common.PacketSize)
	packet[0] = common.PacketVersion
	copy(packet[1:33], ephemeralKey)
	copy(packet[33:65], hmac)
	copy(packet[65:680], routingBlob)
	copy(packet[680:1280], payload)
	return packet
}

// DecodeRoutingInfo parses one 205-byte routing slot. Layout:
//
//	[0]      address type (0x00 final, 0x04 IPv4, 0x06 IPv6)
//	[1:17]   address, 16 bytes, zero-padded for IPv4 / unused for final
//	[17:19]  port, big-endian
//	[19:27]  expiry, unix seconds, big-endian
//	[27:29]  delay in milliseconds, big-endian, capped at MaxHopDelayMillis
//	[29:61]  inner HMAC, copied into RoutingInfo.InnerHMAC unverified
//	[61:205] next layer ciphertext, 144 bytes
func DecodeRoutingInfo(data []byte) (*common.RoutingInfo, error) {
	if len(data) < common.PerHopRoutingSize {
		return nil, fmt.Errorf("routing slot too short: %d", len(data))
	}

	info := &common.RoutingInfo{
		AddressType: data[0],
		Port:        binary.BigEndian.Uint16(data[17:19]),
		Delay:       binary.BigEndian.Uint16(data[27:29]),
	}

	switch info.AddressType {
	case common.AddressTypeIPv4, common.AddressTypeIPv6, common.AddressTypeFinal:
		addr := make([]byte, common.RoutingAddressSize)
		copy(addr, data[1:17])
		info.Address = addr
	default:
		return nil, fmt.Errorf("unknown address type: 0x%02x", info.AddressType)
	}

	if info.Delay > common.MaxHopDelayMillis {
		info.Delay = common.MaxHopDelayMillis
	}

	expiryUnix := int64(binary.BigEndian.Uint64(data[19:27]))
	info.Expiry = time.Unix(expiryUnix, 0)

	innerHMAC := make([]byte, common.RoutingInnerHMAC)
	copy(innerHMAC, data[29:61])
	info.InnerHMAC = innerHMAC

	nextLayer := make([]byte, common.RoutingNextLayer)
	copy(nextLayer, data[61:205])
	info.NextLayer = nextLayer

	return info, nil
}

// FormatAddress renders a routing slot's address/port as a dial string.
func FormatAddress(routing *common.RoutingInfo) (string, error) {
	switch routing.AddressType {
	case common.AddressTypeIPv4:
		if len(routing.Address) < 4 {
			return "", fmt.Errorf("short IPv4 address")
		}
		return fmt.Sprintf("%d.%d.%d.%d:%d",
			routing.Address[0], routing.Address[1],
			routing.Address[2], routing.Address[3],
			routing.Port), nil
	case common.AddressTypeIPv6:
		if len(routing.Address) < 16 {
			return "", fmt.Errorf("short IPv6 address")
		}
		return fmt.Sprintf("[%x:%x:%x:%x:%x:%x:%x:%x]:%d",
			binary.BigEndian.Uint16(routing.Address[0:2]),
			binary.BigEndian.Uint16(routing.Address[2:4]),
			binary.BigEndian.Uint16(routing.Address[4:6]),
			binary.BigEndian.Uint16(routing.Address[6:8]),
			binary.BigEndian.Uint16(routing.Address[8:10]),
			binary.BigEndian.Uint16(routing.Address[10:12]),
			binary.BigEndian.Uint16(routing.Address[12:14]),
			binary.BigEndian.Uint16(routing.Address[14:16]),
			routing.Port), nil
	default:
		return "", nil
	}
}
