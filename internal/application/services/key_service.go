package services

import (
	"crypto/md5" // #nosec G501 - fingerprint, not a security primitive
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/jmespath/go-jmespath"
	"github.com/sirupsen/logrus"
)

// KeyServiceConfig groups configuration parameters for key derivation.
type KeyServiceConfig struct {
	// Namespace identifies the wrapped function; it prefixes every key so
	// distinct functions sharing a store never collide.
	Namespace string
	// EventKeyJMESPath selects the payload subset that identifies the
	// invocation. Empty selects the whole payload.
	EventKeyJMESPath string
	// PayloadValidationJMESPath selects the subset fingerprinted for replay
	// mismatch detection. Empty disables the validation hash.
	PayloadValidationJMESPath string
	// RaiseOnNoIdempotencyKey fails key derivation when the selected subset
	// is empty instead of hashing the empty value.
	RaiseOnNoIdempotencyKey bool
	// HashFunction is "md5" (default) or "sha256".
	HashFunction string
}

// KeyService derives deterministic idempotency keys: the configured JMESPath
// subset of the payload is reduced to canonical JSON and hashed, producing
// "<namespace>#<digest>". The same payload always maps to the same key.
type KeyService struct {
	namespace      string
	keyExpr        *jmespath.JMESPath
	validationExpr *jmespath.JMESPath
	raiseOnNoKey   bool
	useSHA256      bool
	logger         *logrus.Logger
}

func NewKeyService(cfg *KeyServiceConfig, logger *logrus.Logger) (*KeyService, error) {
	if cfg == nil || cfg.Namespace == "" {
		return nil, fmt.Errorf("key service requires a namespace")
	}
	s := &KeyService{
		namespace:    cfg.Namespace,
		raiseOnNoKey: cfg.RaiseOnNoIdempotencyKey,
		useSHA256:    cfg.HashFunction == "sha256",
		logger:       logger,
	}
	if cfg.EventKeyJMESPath != "" {
		expr, err := jmespath.Compile(cfg.EventKeyJMESPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compile event key expression: %w", err)
		}
		s.keyExpr = expr
	}
	if cfg.PayloadValidationJMESPath != "" {
		expr, err := jmespath.Compile(cfg.PayloadValidationJMESPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compile payload validation expression: %w", err)
		}
		s.validationExpr = expr
	}
	return s, nil
}

// BuildKey derives the idempotency key for a payload.
func (s *KeyService) BuildKey(payload []byte) (string, error) {
	data, err := s.selected(payload, s.keyExpr)
	if err != nil {
		return "", err
	}
	if isEmpty(data) {
		if s.raiseOnNoKey {
			return "", idempotency.ErrNoIdempotencyKey
		}
		s.logger.WithFields(logrus.Fields{"namespace": s.namespace}).Warn("no data found to build an idempotency key")
	}
	digest, err := s.hash(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s#%s", s.namespace, digest), nil
}

// ValidationHash fingerprints the validation subset of a payload. It returns
// an empty hash when no validation expression is configured.
func (s *KeyService) ValidationHash(payload []byte) (string, error) {
	if s.validationExpr == nil {
		return "", nil
	}
	data, err := s.selected(payload, s.validationExpr)
	if err != nil {
		return "", err
	}
	return s.hash(data)
}

func (s *KeyService) selected(payload []byte, expr *jmespath.JMESPath) (interface{}, error) {
	var data interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	if expr == nil {
		return data, nil
	}
	selected, err := expr.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to select payload subset: %w", err)
	}
	return selected, nil
}

// hash reduces the selected data to canonical JSON (object keys sorted) and
// returns the hex digest, so field ordering in the wire payload never changes
// the key.
func (s *KeyService) hash(data interface{}) (string, error) {
	canonical, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	if s.useSHA256 {
		sum := sha256.Sum256(canonical)
		return hex.EncodeToString(sum[:]), nil
	}
	sum := md5.Sum(canonical) // #nosec G401
	return hex.EncodeToString(sum[:]), nil
}

func isEmpty(data interface{}) bool {
	switch t := data.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}
