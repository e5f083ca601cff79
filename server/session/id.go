package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID derives an opaque session identifier from a client seed (usually
// the remote address), the current time and a random UUID.
func NewID(seed string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(uuid.NewString()))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
