package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strconv"
	"time"
)

const (
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDLength   = 7
)

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewRoomID returns a short lowercase base36 room id. Collisions are not checked.
func NewRoomID() string {
	buf := make([]byte, roomIDLength)
	max := big.NewInt(int64(len(roomIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// Fallback to timestamp digits if crypto/rand is unavailable.
			ts := strconv.FormatInt(time.Now().UnixNano(), 36)
			return ts[len(ts)-roomIDLength:]
		}
		buf[i] = roomIDAlphabet[n.Int64()]
	}
	return string(buf)
}
