package syncrecord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// keyNamespace scopes idempotency keys so they cannot collide with UUIDv5
// values minted by other systems from the same names.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://xraph.dev/barre/sync"))

// NewClaimToken returns a fresh token naming one claim on a record.
func NewClaimToken() string { return uuid.NewString() }

// IdempotencyKey derives the provider-facing idempotency key for a
// transaction. It depends only on the transaction id and provider, so every
// retry of the same record presents the same key.
func IdempotencyKey(transactionID, provider string) string {
	name := transactionID + "|" + strings.ToLower(provider)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// Fingerprint hashes the canonical JSON form of content. Callers pass a
// struct so field order, and therefore the hash, is stable.
func Fingerprint(content any) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("syncrecord: fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
