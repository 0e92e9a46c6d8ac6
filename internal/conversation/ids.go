package conversation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is effectively unrecoverable entropy
			// starvation; fall back to a fixed char rather than panic.
			out[i] = base36Alphabet[0]
			continue
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out)
}

// NewConversationID generates the "agent-<unix-ms>-<random>" identifier
// convention for a freshly created ConversationRecord.
func NewConversationID() string {
	return fmt.Sprintf("agent-%d-%s", time.Now().UnixMilli(), randomBase36(8))
}

// NewMessageID generates the "msg-<unix-ms>-<random>" identifier convention
// used when a caller omits an explicit message id.
func NewMessageID() string {
	return fmt.Sprintf("msg-%d-%s", time.Now().UnixMilli(), randomBase36(8))
}
