// Package auth is a hand-rolled HMAC-SHA256 bearer-token scheme
// protecting cmd/coordinatord's HTTP surface, matching the teacher's
// own control_plane/auth in spirit: no JWT library, a minimal claim
// set, base64url-encoded header.payload.signature.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Claims identifies the campaign and role a token is scoped to.
type Claims struct {
	CampaignID string `json:"campaign_id"`
	Role       string `json:"role"` // "client" or "operator"
	Issuer     string `json:"iss"`
	ExpiresAt  int64  `json:"exp"`
	IssuedAt   int64  `json:"iat"`
}

var (
	tokenSecret []byte
	issuer      = "fedcoord"
)

func init() {
	secretEnv := os.Getenv("FEDCOORD_TOKEN_SECRET")
	if len(secretEnv) < 32 {
		if secretEnv == "" {
			fmt.Println("WARNING: FEDCOORD_TOKEN_SECRET not set. Using insecure default for local dev only.")
			tokenSecret = []byte("insecure_default_secret_for_dev_mode_only_32bytes")
		} else {
			panic("CRITICAL SECURITY ERROR: FEDCOORD_TOKEN_SECRET must be at least 32 characters long.")
		}
	} else {
		tokenSecret = []byte(secretEnv)
	}
}

// GenerateToken creates a signed bearer token scoped to campaignID and
// role, valid for 24 hours.
func GenerateToken(campaignID, role string) (string, error) {
	now := time.Now().Unix()
	claims := Claims{
		CampaignID: campaignID,
		Role:       role,
		Issuer:     issuer,
		ExpiresAt:  now + 86400,
		IssuedAt:   now,
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	payload := base64UrlEncode(claimsJSON)
	signature := computeHMAC(payload, tokenSecret)
	return payload + "." + signature, nil
}

// ValidateToken parses and verifies a bearer token's signature and
// expiry, returning its claims.
func ValidateToken(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, errors.New("invalid token format")
	}

	payload, signature := parts[0], parts[1]
	if computeHMAC(payload, tokenSecret) != signature {
		return nil, errors.New("invalid signature")
	}

	claimsJSON, err := base64UrlDecode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}
	if claims.Issuer != issuer {
		return nil, errors.New("invalid issuer")
	}
	return &claims, nil
}

func computeHMAC(message string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64UrlEncode(h.Sum(nil))
}

func base64UrlEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64UrlDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
