package account

import (
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matryer/is"
)

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWithToken(t *testing.T) {
	is := is.New(t)
	a := Account{
		ID:       4,
		Instance: &url.URL{Scheme: "https", Host: "lemmy.world"},
		Username: "kronusdark",
		Token:    "old",
	}
	b := a.WithToken("new")
	is.Equal(b.ID, a.ID)
	is.Equal(b.Username, a.Username)
	is.Equal(b.Instance.String(), a.Instance.String())
	is.Equal(b.Token, "new")
	is.Equal(a.Token, "old") // a copy, not a mutation
	b.Instance.Host = "example.com"
	is.Equal(a.Instance.Host, "lemmy.world")
	is.Equal(a.String(), "kronusdark@lemmy.world")
}

func TestClaims(t *testing.T) {
	is := is.New(t)
	iat := time.Unix(1_690_000_000, 0)
	a := Account{Token: token(t, jwt.MapClaims{
		"sub": 12,
		"iss": "lemmy.world",
		"iat": iat.Unix(),
	})}
	c, err := a.Claims()
	is.NoErr(err)
	is.Equal(c.Subject, "12")
	is.Equal(c.Issuer, "lemmy.world")
	is.True(c.IssuedAt.Equal(iat))
	is.True(c.ExpiresAt == nil)
	is.True(!a.Expired(time.Now()))

	_, err = Account{Token: "not-a-jwt"}.Claims()
	is.True(err != nil)
	is.True(Account{}.Expired(time.Now()))
}

func TestExpired(t *testing.T) {
	is := is.New(t)
	now := time.Now()
	a := Account{Token: token(t, jwt.MapClaims{
		"sub": "1",
		"exp": now.Add(-time.Minute).Unix(),
	})}
	is.True(a.Expired(now))
	a = Account{Token: token(t, jwt.MapClaims{
		"sub": "1",
		"exp": now.Add(time.Hour).Unix(),
	})}
	is.True(!a.Expired(now))
}
