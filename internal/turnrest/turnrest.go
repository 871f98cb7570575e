// Package turnrest issues coturn-compatible ephemeral TURN credentials.
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

var (
	ErrNoSecret     = errors.New("turnrest: shared secret is required")
	ErrBadTTL       = errors.New("turnrest: ttl must be > 0")
	ErrBadPrefix    = errors.New("turnrest: username prefix must be non-empty and contain no ':'")
	ErrBadSessionID = errors.New("turnrest: session id must be non-empty and contain no ':'")
)

type GeneratorConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now and SessionIDSource are overridable for tests.
	Now             func() time.Time
	SessionIDSource func() string
}

type Generator struct {
	secret    []byte
	ttl       int64 // seconds
	prefix    string
	now       func() time.Time
	sessionID func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrNoSecret
	}
	ttl := int64(cfg.TTL / time.Second)
	if ttl <= 0 {
		return nil, ErrBadTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrBadPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionIDSource == nil {
		cfg.SessionIDSource = uuid.NewString
	}
	return &Generator{
		secret:    []byte(cfg.SharedSecret),
		ttl:       ttl,
		prefix:    cfg.UsernamePrefix,
		now:       cfg.Now,
		sessionID: cfg.SessionIDSource,
	}, nil
}

// Generate signs credentials bound to sessionID.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, ErrBadSessionID
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, sessionID)

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
	}, nil
}

// Apply returns a copy of servers where every entry with a turn: or turns:
// URL carries freshly generated credentials. Other entries are untouched.
func (g *Generator) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	if len(servers) == 0 || !lo.SomeBy(servers, hasTURNURL) {
		return servers, nil
	}
	creds, err := g.Generate(g.sessionID())
	if err != nil {
		return nil, err
	}
	return lo.Map(servers, func(s webrtc.ICEServer, _ int) webrtc.ICEServer {
		if hasTURNURL(s) {
			s.Username = creds.Username
			s.Credential = creds.Credential
		}
		return s
	}), nil
}

func hasTURNURL(s webrtc.ICEServer) bool {
	return lo.SomeBy(s.URLs, func(raw string) bool {
		u := strings.ToLower(strings.TrimSpace(raw))
		return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
	})
}
