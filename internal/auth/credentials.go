package auth

import (
	"context"
	"sync"
	"time"
)

// Credentials supplies the optional bearer token for mark requests.
// A static token wins; otherwise a device token is self-issued and reissued
// shortly before it expires. With neither configured Token returns "".
type Credentials struct {
	static  string
	subject string
	issuer  string
	key     string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current Token
}

// NewCredentials builds a credential source.
func NewCredentials(static, subject, issuer, key string, ttl time.Duration) *Credentials {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Credentials{static: static, subject: subject, issuer: issuer, key: key, ttl: ttl, now: time.Now}
}

// Token returns the current bearer token.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	if c == nil {
		return "", nil
	}
	if c.static != "" {
		return c.static, nil
	}
	if c.key == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// reissue once less than a tenth of the lifetime remains
	if c.current.Value != "" && now.Add(c.ttl/10).Before(c.current.ExpiresAt) {
		return c.current.Value, nil
	}
	t, err := Issue(c.subject, RoleKiosk, c.issuer, c.key, c.ttl, now)
	if err != nil {
		return "", err
	}
	c.current = t
	return t.Value, nil
}
