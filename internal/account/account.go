package account

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Account is a saved login on a single instance. Values are never mutated
// once handed out; use [Account.WithToken] to get a refreshed copy.
type Account struct {
	ID       int64
	Instance *url.URL
	Username string
	Token    string
}

// WithToken returns a copy of the account with a new credential.
func (a Account) WithToken(token string) Account {
	var instance *url.URL
	if a.Instance != nil {
		u := *a.Instance
		instance = &u
	}
	return Account{
		ID:       a.ID,
		Instance: instance,
		Username: a.Username,
		Token:    token,
	}
}

// Host is the instance's hostname.
func (a Account) Host() string {
	if a.Instance == nil {
		return ""
	}
	return a.Instance.Hostname()
}

// String formats the account as user@host.
func (a Account) String() string {
	return fmt.Sprintf("%s@%s", a.Username, a.Host())
}

// Claims are the claims carried by an instance issued jwt.
type Claims struct {
	// Subject is the local user id.
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// Claims decodes the account token's claims without verifying the
// signature. The signing key only lives on the instance.
func (a Account) Claims() (*Claims, error) {
	if len(a.Token) == 0 {
		return nil, errors.New("account has no token")
	}
	mc := make(jwt.MapClaims)
	_, _, err := jwt.NewParser().ParseUnverified(a.Token, mc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse account token")
	}
	var c Claims
	switch sub := mc["sub"].(type) {
	case string:
		c.Subject = sub
	case float64:
		c.Subject = strconv.FormatInt(int64(sub), 10)
	}
	c.Issuer, _ = mc.GetIssuer()
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

// Expired reports whether the token carries an expiration that has passed.
// Tokens without an exp claim are only found to be expired when the
// instance rejects them.
func (a Account) Expired(now time.Time) bool {
	c, err := a.Claims()
	if err != nil {
		return len(a.Token) == 0
	}
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
