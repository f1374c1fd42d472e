package attendance

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// unknownIdentity is the identity token hashed into idempotency keys for
// events without a resolved student.
const unknownIdentity = "unknown"

// WindowIndex maps a detection time to its cooldown window. Events for the
// same identity inside one window share a window index, so their
// idempotency keys collide and retries collapse to one record.
func WindowIndex(detectedAt time.Time, cooldown time.Duration) int64 {
	secs := int64(cooldown / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return detectedAt.UTC().Unix() / secs
}

// IdempotencyKey derives the stable key for a sighting. The key is a
// deterministic hash of (room, identity, day, cooldown window), so a
// re-sent event after a delivery timeout is a duplicate at the ledger
// rather than a second record.
func IdempotencyKey(roomID, studentID string, day Day, windowIndex int64) string {
	identity := studentID
	if identity == "" {
		identity = unknownIdentity
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d", roomID, identity, day, windowIndex))
	return hex.EncodeToString(sum[:])
}

// UnknownIdentity derives a stable identity token for an unresolved
// sighting from its face vector. Two distinct strangers inside the same
// cooldown window must not collapse to a single key, so the embedding
// stands in for the student id.
func UnknownIdentity(embedding []float32) string {
	h := sha256.New()
	var buf [4]byte
	for _, v := range embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	return unknownIdentity + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}
