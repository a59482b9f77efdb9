package common

import (
	"crypto/ed25519"
	"time"
)

// NodeInfo represents information about a service node.
type NodeInfo struct {
	ID        string            `json:"id"`
	PublicKey ed25519.PublicKey `json:"public_key"`
	Address   string            `json:"address"`
	Port      uint16            `json:"port"`
	LastSeen  time.Time         `json:"last_seen"`
	Version   string            `json:"version"`
	Healthy   bool              `json:"healthy"`
}

// OnionPacket is the parsed form of a 1280-byte Sphinx-like onion packet.
// Field slices reference the buffer passed to decode; they are not copies.
type OnionPacket struct {
	Version          byte   `json:"version"`
	EphemeralKey     []byte `json:"ephemeral_key"`     // 32 bytes
	HeaderHMAC       []byte `json:"header_hmac"`       // 32 bytes
	RoutingBlob      []byte `json:"routing_blob"`      // 615 bytes
	EncryptedPayload []byte `json:"encrypted_payload"` // 600 bytes
}

// RoutingInfo is the decrypted per-hop routing slot (205-byte stride).
type RoutingInfo struct {
	AddressType byte      `json:"address_type"` // 0x00 final, 0x04 IPv4, 0x06 IPv6
	Address     []byte    `json:"address"`       // always 16 bytes, zero-padded/empty
	Port        uint16    `json:"port"`
	Expiry      time.Time `json:"expiry"`
	Delay       uint16    `json:"delay"` // milliseconds, capped at 2000
	InnerHMAC   []byte    `json:"inner_hmac"`
	NextLayer   []byte    `json:"-"` // 144 bytes, ciphertext for the next hop
}

// Message is a stored, E2EE ciphertext message awaiting pickup by an
// offline recipient.
type Message struct {
	ID               string    `json:"id"`
	DestinationID    string    `json:"destination_id"` // recipient Session ID
	Timestamp        time.Time `json:"timestamp"`
	MessageType      byte      `json:"message_type"`
	EncryptedContent []byte    `json:"encrypted_content"`
	TTL              time.Time `json:"ttl"`
	ReplicaCount     int       `json:"replica_count"`
	PoWNonce         uint64    `json:"pow_nonce,omitempty"` // admission proof-of-work, see pkg/pow
}

// MessageType constants.
const (
	MessageTypeText            byte = 0x01
	MessageTypeAttachment      byte = 0x02
	MessageTypeTypingIndicator byte = 0x03
	MessageTypeReadReceipt     byte = 0x04
	MessageTypeDeliveryReceipt byte = 0x05
)

// SwarmInfo describes the swarm (replica set) hosting a recipient's messages.
type SwarmInfo struct {
	SwarmID      string   `json:"swarm_id"`
	Nodes        []string `json:"nodes"`
	Replicas     int      `json:"replicas"`
	MessageCount int      `json:"message_count"`
}

// BootstrapSet is a signed snapshot of the currently healthy node set.
type BootstrapSet struct {
	Version   int        `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Nodes     []NodeInfo `json:"nodes"`
	Signature []byte     `json:"signature"`
}

// Config is the service node's on-disk YAML configuration.
type Config struct {
	NodeID         string `yaml:"node_id"`
	PrivateKeyFile string `yaml:"private_key_file"`

	ListenAddress string `yaml:"listen_address"`
	PublicAddress string `yaml:"public_address"`

	BootstrapNodes []string `yaml:"bootstrap_nodes"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	MTLS struct {
		Enabled  bool   `yaml:"enabled"`
		CAFile   string `yaml:"ca_file"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"mtls"`

	Storage struct {
		Backend   string `yaml:"backend"` // "memory" | "sqlite" | "rocksdb"
		Path      string `yaml:"path"`
		MaxSizeGB int    `yaml:"max_size_gb"`
	} `yaml:"storage"`

	Swarm struct {
		ReplicationFactor int `yaml:"replication_factor"`
		TTLDays           int `yaml:"ttl_days"`
	} `yaml:"swarm"`

	RateLimit struct {
		Enabled           bool          `yaml:"enabled"`
		RequestsPerSecond int           `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"`
	} `yaml:"rate_limit"`

	PoW struct {
		Enabled    bool `yaml:"enabled"`
		Difficulty int  `yaml:"difficulty"` // required leading zero bits
	} `yaml:"pow"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "json" | "console"
		Output string `yaml:"output"` // "stdout" | "stderr" | path
	} `yaml:"logging"`
}

// Wire-format constants for the 1280-byte onion packet (spec §3, §6).
const (
	PacketVersion byte = 0x01
	PacketSize         = 1280

	EphemeralKeySize = 32
	HMACSize         = 32
	HeaderSize       = 1 + EphemeralKeySize + HMACSize // 65

	RoutingBlobSize = 615
	PayloadSize     = 600

	PerHopRoutingSize  = 205
	RoutingAddressSize = 16
	RoutingInnerHMAC   = 32
	RoutingNextLayer   = 144

	// Address types for a routing slot.
	AddressTypeFinal byte = 0x00
	AddressTypeIPv4  byte = 0x04
	AddressTypeIPv6  byte = 0x06

	// MaxHopDelayMillis is the cap on the per-hop scheduler dwell time.
	MaxHopDelayMillis uint16 = 2000

	// ReplayWindow is the minimum lifetime of a replay cache entry; it
	// must be at least as long as the maximum routing expiry.
	ReplayWindow = 5 * time.Minute
)
