package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Solve finds the smallest non-negative integer n such that
// hex(sha256(nonce + n)) starts with difficulty zero characters. It is the
// reference implementation of the client-side solving contract and is only
// practical for small difficulties (expected attempts grow as 16^difficulty).
func Solve(ctx context.Context, nonce string, difficulty int) (int64, string, error) {
	prefix := strings.Repeat("0", difficulty)

	for n := int64(0); ; n++ {
		if n%4096 == 0 {
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			default:
			}
		}

		sum := sha256.Sum256([]byte(nonce + strconv.FormatInt(n, 10)))
		hash := hex.EncodeToString(sum[:])
		if strings.HasPrefix(hash, prefix) {
			return n, hash, nil
		}
	}
}
