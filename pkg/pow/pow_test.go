package pow

import (
	"testing"

	"github.com/ghosttalk/swarmnode/pkg/common"
)

func TestVerify_DisabledWhenDifficultyZero(t *testing.T) {
	c := Challenge{RecipientID: "r", MessageID: "m", Timestamp: 1000}
	if err := Verify(c, 0, 0); err != nil {
		t.Errorf("expected nil error at difficulty 0, got %v", err)
	}
}

func TestSolveThenVerify(t *testing.T) {
	c := Challenge{RecipientID: "recipient-1", MessageID: "msg-1", Timestamp: 1700000000}
	const difficulty = 12

	nonce := Solve(c, difficulty)
	if err := Verify(c, nonce, difficulty); err != nil {
		t.Errorf("Verify failed for solved nonce: %v", err)
	}
}

func TestVerify_RejectsWrongNonce(t *testing.T) {
	c := Challenge{RecipientID: "recipient-1", MessageID: "msg-1", Timestamp: 1700000000}
	err := Verify(c, 0, 16)
	if err == nil {
		t.Fatal("expected nonce 0 to fail a difficulty-16 challenge")
	}
	if common.KindOf(err) != common.KindProofOfWorkInvalid {
		t.Errorf("kind = %v, want KindProofOfWorkInvalid", common.KindOf(err))
	}
}

func TestVerify_DifferentChallengeInvalidatesNonce(t *testing.T) {
	c1 := Challenge{RecipientID: "recipient-1", MessageID: "msg-1", Timestamp: 1700000000}
	const difficulty = 10
	nonce := Solve(c1, difficulty)

	c2 := Challenge{RecipientID: "recipient-2", MessageID: "msg-1", Timestamp: 1700000000}
	if err := Verify(c2, nonce, difficulty); err == nil {
		t.Error("expected nonce solved for one challenge to not satisfy a different one")
	}
}

func TestLeadingZeroBits(t *testing.T) {
	tests := []struct {
		sum  [32]byte
		want int
	}{
		{sum: [32]byte{0x00, 0x00, 0xFF}, want: 16},
		{sum: [32]byte{0xFF}, want: 0},
		{sum: [32]byte{0x0F}, want: 4},
		{sum: [32]byte{0x00, 0xFF}, want: 8},
	}
	for _, tt := range tests {
		if got := leadingZeroBits(tt.sum); got != tt.want {
			t.Errorf("leadingZeroBits(%x) = %d, want %d", tt.sum, got, tt.want)
		}
	}
}
