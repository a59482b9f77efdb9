// Package pow implements a hashcash-style admission proof of work for
// direct swarm stores: the submitter must find a nonce such that
// SHA256(nonce ‖ recipient_id ‖ message_id ‖ timestamp) has at least
// difficulty leading zero bits.
package pow

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ghosttalk/swarmnode/pkg/common"
)

// Challenge is the material a proof of work is computed over.
type Challenge struct {
	RecipientID string
	MessageID   string
	Timestamp   int64
}

// digest computes SHA256(nonce ‖ recipient_id ‖ message_id ‖ timestamp).
func digest(c Challenge, nonce uint64) [32]byte {
	h := sha256.New()
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	h.Write(nonceBuf[:])
	h.Write([]byte(c.RecipientID))
	h.Write([]byte(c.MessageID))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(c.Timestamp))
	h.Write(tsBuf[:])

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// leadingZeroBits counts the number of leading zero bits in sum.
func leadingZeroBits(sum [32]byte) int {
	count := 0
	for _, b := range sum {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// Verify reports whether nonce satisfies the proof-of-work challenge at the
// given difficulty (required leading zero bits).
func Verify(c Challenge, nonce uint64, difficulty int) error {
	if difficulty <= 0 {
		return nil
	}
	sum := digest(c, nonce)
	if leadingZeroBits(sum) < difficulty {
		return common.NewError(common.KindProofOfWorkInvalid, "pow.Verify",
			fmt.Errorf("proof of work below required difficulty %d", difficulty))
	}
	return nil
}

// Solve brute-forces a nonce satisfying the challenge at the given
// difficulty. Intended for tests and client tooling, not the node itself.
func Solve(c Challenge, difficulty int) uint64 {
	for nonce := uint64(0); ; nonce++ {
		if leadingZeroBits(digest(c, nonce)) >= difficulty {
			return nonce
		}
	}
}
