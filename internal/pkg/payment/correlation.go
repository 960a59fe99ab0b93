package payment

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Token prefixes. The plain form is used where the provider accepts long
// fields (plan names, the token gateway's merchant reference); the sealed
// form fits the OAuth gateway's 127-character custom id budget and hides
// local ids from the payer.
const (
	tokenPrefixPlain  = "LRN1."
	tokenPrefixSealed = "LRN1E."
	entityPrefix      = "LRNP1."

	// Budget of the OAuth gateway's custom id field.
	maxSealedTokenLen = 127
)

// correlationClaims is the versioned envelope round-tripped through a
// gateway so a webhook can be mapped back to the original request. Keys are
// deliberately short; new fields must be additive so in-flight tokens keep
// decoding.
type correlationClaims struct {
	V              int    `json:"v"`
	Kind           string `json:"k"`
	OrganizationID uint   `json:"o,omitempty"`
	PlanID         uint   `json:"p,omitempty"`
	UserID         uint   `json:"u,omitempty"`
	CourseID       uint   `json:"c,omitempty"`
	Cycle          string `json:"y"`
}

// entityClaims is the entity-scoped envelope stored in remote plan names.
// It is deterministic (no nonce) so plan listings can be matched exactly.
type entityClaims struct {
	V          int    `json:"v"`
	EntityType string `json:"t"`
	EntityID   uint   `json:"e"`
	Cycle      string `json:"y"`
}

// CorrelationCodec encodes and decodes correlation tokens. It is a pure,
// reversible transform; it performs no I/O.
type CorrelationCodec struct {
	key []byte
}

// NewCorrelationCodec derives the sealing key from the configured secret.
func NewCorrelationCodec(secret string) *CorrelationCodec {
	sum := sha256.Sum256([]byte(secret))
	return &CorrelationCodec{key: sum[:]}
}

// Encode serializes the target and cycle for the given provider. The OAuth
// provider gets the sealed compact form; everything else gets the plain form.
func (c *CorrelationCodec) Encode(target SubscriptionTarget, cycle BillingCycle, provider string) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}
	if !cycle.Valid() {
		return "", fmt.Errorf("invalid billing cycle %q", cycle)
	}

	claims := correlationClaims{
		V:              1,
		Kind:           targetKindCode(target.Kind),
		OrganizationID: target.OrganizationID,
		PlanID:         target.PlanID,
		UserID:         target.UserID,
		CourseID:       target.CourseID,
		Cycle:          cycleCode(cycle),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	if provider == ProviderPayPal {
		sealed, err := c.seal(payload)
		if err != nil {
			return "", err
		}
		token := tokenPrefixSealed + sealed
		if len(token) > maxSealedTokenLen {
			return "", fmt.Errorf("sealed correlation token exceeds %d characters", maxSealedTokenLen)
		}
		return token, nil
	}
	return tokenPrefixPlain + base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode recovers the target and cycle from a token produced by Encode.
// It never panics on attacker-controlled input; every failure is classified
// as ErrCorrelationDecode.
func (c *CorrelationCodec) Decode(token string) (SubscriptionTarget, BillingCycle, error) {
	var payload []byte
	var err error

	switch {
	case strings.HasPrefix(token, tokenPrefixSealed):
		payload, err = c.open(strings.TrimPrefix(token, tokenPrefixSealed))
	case strings.HasPrefix(token, tokenPrefixPlain):
		payload, err = base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefixPlain))
	default:
		return SubscriptionTarget{}, "", fmt.Errorf("%w: unrecognized token format", ErrCorrelationDecode)
	}
	if err != nil {
		return SubscriptionTarget{}, "", fmt.Errorf("%w: %v", ErrCorrelationDecode, err)
	}

	var claims correlationClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return SubscriptionTarget{}, "", fmt.Errorf("%w: %v", ErrCorrelationDecode, err)
	}
	if claims.V != 1 {
		return SubscriptionTarget{}, "", fmt.Errorf("%w: unsupported token version %d", ErrCorrelationDecode, claims.V)
	}

	target := SubscriptionTarget{
		Kind:           targetKindFromCode(claims.Kind),
		OrganizationID: claims.OrganizationID,
		PlanID:         claims.PlanID,
		UserID:         claims.UserID,
		CourseID:       claims.CourseID,
	}
	cycle, ok := cycleFromCode(claims.Cycle)
	if !ok {
		return SubscriptionTarget{}, "", fmt.Errorf("%w: unknown billing cycle code %q", ErrCorrelationDecode, claims.Cycle)
	}
	if err := target.Validate(); err != nil {
		return SubscriptionTarget{}, "", fmt.Errorf("%w: %v", ErrCorrelationDecode, err)
	}
	return target, cycle, nil
}

// EncodeEntity serializes the entity-scoped plan name used for idempotent
// remote plan matching. Deterministic by construction.
func (c *CorrelationCodec) EncodeEntity(entity PlanEntity, cycle BillingCycle) (string, error) {
	if entity.Type == "" || entity.ID == 0 {
		return "", errors.New("plan entity requires type and id")
	}
	if !cycle.Valid() {
		return "", fmt.Errorf("invalid billing cycle %q", cycle)
	}
	payload, err := json.Marshal(entityClaims{V: 1, EntityType: entity.Type, EntityID: entity.ID, Cycle: cycleCode(cycle)})
	if err != nil {
		return "", err
	}
	return entityPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeEntity recovers the entity and cycle from a plan name produced by
// EncodeEntity. Foreign plan names fail with ErrCorrelationDecode.
func (c *CorrelationCodec) DecodeEntity(name string) (PlanEntity, BillingCycle, error) {
	if !strings.HasPrefix(name, entityPrefix) {
		return PlanEntity{}, "", fmt.Errorf("%w: unrecognized plan name format", ErrCorrelationDecode)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(name, entityPrefix))
	if err != nil {
		return PlanEntity{}, "", fmt.Errorf("%w: %v", ErrCorrelationDecode, err)
	}
	var claims entityClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return PlanEntity{}, "", fmt.Errorf("%w: %v", ErrCorrelationDecode, err)
	}
	if claims.V != 1 || claims.EntityType == "" || claims.EntityID == 0 {
		return PlanEntity{}, "", fmt.Errorf("%w: malformed entity claims", ErrCorrelationDecode)
	}
	cycle, ok := cycleFromCode(claims.Cycle)
	if !ok {
		return PlanEntity{}, "", fmt.Errorf("%w: unknown billing cycle code %q", ErrCorrelationDecode, claims.Cycle)
	}
	return PlanEntity{Type: claims.EntityType, ID: claims.EntityID}, cycle, nil
}

func (c *CorrelationCodec) seal(payload []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *CorrelationCodec) open(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("sealed token too short")
	}
	return gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
}

func targetKindCode(kind TargetKind) string {
	if kind == TargetUserCourse {
		return "uc"
	}
	return "op"
}

func targetKindFromCode(code string) TargetKind {
	if code == "uc" {
		return TargetUserCourse
	}
	return TargetOrganizationPlan
}

func cycleCode(cycle BillingCycle) string {
	if cycle == CycleYearly {
		return "y"
	}
	return "m"
}

func cycleFromCode(code string) (BillingCycle, bool) {
	switch code {
	case "m":
		return CycleMonthly, true
	case "y":
		return CycleYearly, true
	default:
		return "", false
	}
}
