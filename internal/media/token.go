package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid media token")
	ErrExpiredToken = errors.New("media token expired")
)

type signingKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // base64
}

// Signer mints and verifies the HMAC tokens that gate thumbnail URLs.
// Tokens ride as query parameters so listings can embed ready-to-fetch
// links; the proxy verifies before touching the vendor API. Old keys
// stay verifiable across rotation via kid lookup.
type Signer struct {
	keys      map[string][]byte
	activeKID string
	ttl       time.Duration
}

func NewSigner(ttl time.Duration) *Signer {
	return &Signer{keys: make(map[string][]byte), ttl: ttl}
}

// LoadFromEnv loads MEDIA_TOKEN_KEYS (JSON array) and
// ACTIVE_MEDIA_TOKEN_KID. Strict like the credential keyring: a broken
// signing setup must fail closed at boot.
func (s *Signer) LoadFromEnv() error {
	keysJSON := os.Getenv("MEDIA_TOKEN_KEYS")
	activeKID := os.Getenv("ACTIVE_MEDIA_TOKEN_KID")

	if keysJSON == "" {
		return errors.New("MEDIA_TOKEN_KEYS environment variable is empty")
	}
	if activeKID == "" {
		return errors.New("ACTIVE_MEDIA_TOKEN_KID environment variable is empty")
	}

	var rawKeys []signingKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse MEDIA_TOKEN_KEYS: %w", err)
	}

	s.keys = make(map[string][]byte)
	for _, rk := range rawKeys {
		if rk.KID == "" {
			return errors.New("found media token key with empty KID")
		}
		if _, exists := s.keys[rk.KID]; exists {
			return fmt.Errorf("duplicate media token KID: %s", rk.KID)
		}
		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if len(decoded) < 32 {
			return fmt.Errorf("key %s too short: want at least 32 bytes", rk.KID)
		}
		s.keys[rk.KID] = decoded
	}

	if _, ok := s.keys[activeKID]; !ok {
		return fmt.Errorf("active key %s not found in MEDIA_TOKEN_KEYS", activeKID)
	}
	s.activeKID = activeKID
	return nil
}

// AddKey registers a key directly. Test seam; production loads from env.
func (s *Signer) AddKey(kid string, material []byte, active bool) {
	s.keys[kid] = material
	if active {
		s.activeKID = kid
	}
}

// canonical string: thumb|{eventId}|{orgId}|{exp}
func canonical(eventID, orgID uuid.UUID, exp int64) string {
	return fmt.Sprintf("thumb|%s|%s|%d", eventID, orgID, exp)
}

func sign(key []byte, payload string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// SignThumbnail returns the query fragment (exp, kid, sig) that
// authorizes fetching one event's thumbnail until the TTL runs out.
func (s *Signer) SignThumbnail(eventID, orgID uuid.UUID) (url.Values, error) {
	key, ok := s.keys[s.activeKID]
	if !ok {
		return nil, errors.New("media signer has no active key")
	}
	exp := time.Now().Add(s.ttl).Unix()

	v := url.Values{}
	v.Set("org", orgID.String())
	v.Set("exp", strconv.FormatInt(exp, 10))
	v.Set("kid", s.activeKID)
	v.Set("sig", sign(key, canonical(eventID, orgID, exp)))
	return v, nil
}

// ThumbnailURL builds the embeddable proxy path for an event.
func (s *Signer) ThumbnailURL(eventID, orgID uuid.UUID) (string, error) {
	v, err := s.SignThumbnail(eventID, orgID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/api/v1/events/%s/thumbnail?%s", eventID, v.Encode()), nil
}

// VerifyThumbnail checks a proxy request's token against the event it
// names. The org rides in the query rather than a header so the link
// works from a plain <img> tag; the signature binds it to the event.
// On success it returns the org the token was minted for.
func (s *Signer) VerifyThumbnail(eventID uuid.UUID, query url.Values) (uuid.UUID, error) {
	orgID, err := uuid.Parse(query.Get("org"))
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	if err := s.verify(eventID, orgID, query); err != nil {
		return uuid.Nil, err
	}
	return orgID, nil
}

func (s *Signer) verify(eventID, orgID uuid.UUID, query url.Values) error {
	expStr := query.Get("exp")
	kid := query.Get("kid")
	sigHex := query.Get("sig")
	if expStr == "" || kid == "" || sigHex == "" {
		return ErrInvalidToken
	}

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if time.Now().Unix() > exp {
		return ErrExpiredToken
	}

	key, ok := s.keys[kid]
	if !ok {
		return ErrInvalidToken
	}

	expected := sign(key, canonical(eventID, orgID, exp))
	if !hmac.Equal([]byte(sigHex), []byte(expected)) {
		return ErrInvalidToken
	}
	return nil
}
