// Package verification fingerprints complaints and anchors the fingerprints
// on the ledger, tracking every attempt in the local verification records.
package verification

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"suarawarga/backend/internal/models"
)

// Tuple is the fixed set of fields a fingerprint covers, in hashing order.
type Tuple struct {
	ComplaintID string
	AuthorID    string
	Title       string
	Content     string
	CreatedAt   time.Time
}

func TupleOf(c *models.Complaint) Tuple {
	return Tuple{
		ComplaintID: c.ID,
		AuthorID:    c.AuthorID,
		Title:       c.Title,
		Content:     c.RawText,
		CreatedAt:   c.CreatedAt,
	}
}

// Fingerprint hashes the tuple with SHA-256. Each string is prefixed with
// its byte length so field boundaries cannot shift; the creation time is
// taken in Unix milliseconds. The result is 0x-prefixed lowercase hex.
func Fingerprint(t Tuple) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range []string{t.ComplaintID, t.AuthorID, t.Title, t.Content} {
		binary.BigEndian.PutUint32(n[:4], uint32(len(field)))
		h.Write(n[:4])
		h.Write([]byte(field))
	}
	binary.BigEndian.PutUint64(n[:], uint64(t.CreatedAt.UnixMilli()))
	h.Write(n[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
