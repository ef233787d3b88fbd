// Package downloadlink issues short-lived signed links that let a browser
// fetch one document without sending the bearer token. A link is accepted
// once; replays are refused until the link would have expired anyway.
package downloadlink

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMalformed = errors.New("malformed download link")
	ErrSignature = errors.New("invalid download link signature")
	ErrExpired   = errors.New("download link expired")
	ErrUsed      = errors.New("download link already used")
)

type Claims struct {
	DocumentID uuid.UUID `json:"doc"`
	UserID     uuid.UUID `json:"uid"`
	ExpiresAt  int64     `json:"exp"`
	Nonce      string    `json:"nce"`
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	used map[string]int64
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		used:   make(map[string]int64),
	}
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Issue(documentID, userID uuid.UUID) (string, time.Time, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.ttl)
	payload, err := json.Marshal(Claims{
		DocumentID: documentID,
		UserID:     userID,
		ExpiresAt:  expiresAt.Unix(),
		Nonce:      hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + s.sign(payload), expiresAt, nil
}

// Redeem verifies the link and marks it used.
func (s *Signer) Redeem(link string) (*Claims, error) {
	claims, err := s.verify(link)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.used[claims.Nonce]; seen {
		return nil, ErrUsed
	}
	s.used[claims.Nonce] = claims.ExpiresAt
	return claims, nil
}

func (s *Signer) verify(link string) (*Claims, error) {
	dot := strings.LastIndexByte(link, '.')
	if dot <= 0 || dot == len(link)-1 {
		return nil, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(link[:dot])
	if err != nil {
		return nil, ErrMalformed
	}
	if !hmac.Equal([]byte(s.sign(payload)), []byte(link[dot+1:])) {
		return nil, ErrSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformed
	}
	if s.now().Unix() > claims.ExpiresAt {
		return nil, ErrExpired
	}
	return &claims, nil
}

// Sweep forgets used nonces whose links have expired and returns how many
// were dropped.
func (s *Signer) Sweep() int {
	now := s.now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for nonce, expiresAt := range s.used {
		if expiresAt < now {
			delete(s.used, nonce)
			dropped++
		}
	}
	return dropped
}

func (s *Signer) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (s *Signer) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
