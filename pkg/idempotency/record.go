package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/biobank/shipment-lifecycle/pkg/errors"
)

// HeaderIdempotencyKey is the request header carrying the client's key
const HeaderIdempotencyKey = "Idempotency-Key"

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Record is a stored idempotency key together with the response it produced
type Record struct {
	Key                string            `bson:"key"`
	ServiceID          string            `bson:"serviceId"`
	RequestPath        string            `bson:"requestPath"`
	RequestMethod      string            `bson:"requestMethod"`
	RequestFingerprint string            `bson:"requestFingerprint"`
	LockedAt           *time.Time        `bson:"lockedAt,omitempty"`
	ResponseCode       int               `bson:"responseCode,omitempty"`
	ResponseBody       []byte            `bson:"responseBody,omitempty"`
	ResponseHeaders    map[string]string `bson:"responseHeaders,omitempty"`
	CreatedAt          time.Time         `bson:"createdAt"`
	CompletedAt        *time.Time        `bson:"completedAt,omitempty"`
	ExpiresAt          time.Time         `bson:"expiresAt"`
}

// IsCompleted reports whether a response has been stored
func (r *Record) IsCompleted() bool {
	return r.CompletedAt != nil
}

// IsLocked reports whether a request holding the key is still running
func (r *Record) IsLocked() bool {
	return r.LockedAt != nil && r.CompletedAt == nil
}

// ValidateKey checks the format and length of a key
func ValidateKey(key string, maxLength int) *errors.AppError {
	switch {
	case key == "":
		return errors.ErrBadRequest("idempotency key is required")
	case len(key) > maxLength:
		return errors.ErrBadRequest("idempotency key is too long")
	case !keyPattern.MatchString(key):
		return errors.ErrBadRequest("idempotency key may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// Fingerprint hashes a request body so retries with different parameters
// can be told apart
func Fingerprint(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// NormalizeKey trims surrounding whitespace
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
