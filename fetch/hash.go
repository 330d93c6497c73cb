package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/c360/tenantsync/errors"
)

// DefaultVolatileFields are top-level keys excluded from record hashing
// because providers bump them on every sync even when nothing changed.
var DefaultVolatileFields = []string{
	"last_seen", "lastSeen",
	"last_sync", "lastSync",
	"fetched_at", "fetchedAt",
	"@odata.etag",
}

// RecordHash computes the canonical content fingerprint of a raw record:
// sha256 over the record JSON with the volatile keys removed. Map marshaling
// sorts keys, so the hash is stable across field orderings.
func RecordHash(raw json.RawMessage, volatile ...string) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", errors.WrapInvalid(err, "fetch", "RecordHash", "decode record")
	}
	for _, key := range volatile {
		delete(payload, key)
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", errors.WrapInvalid(err, "fetch", "RecordHash", "encode record")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
