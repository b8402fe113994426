package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"BoardLedger/internal/event"
)

// EntryKey derives the dedup key of a feed entry: type, date and a SHA-256
// of the full compacted content. Two entries collide only if their whole
// payloads are identical, whitespace aside.
func EntryKey(entry event.FeedEntry) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, entry.Content); err != nil {
		buf.Reset()
		buf.Write(entry.Content)
	}
	sum := sha256.Sum256(buf.Bytes())

	return entry.Type + ":" + strconv.FormatInt(entry.Date, 10) + ":" + hex.EncodeToString(sum[:])
}
