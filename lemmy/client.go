package lemmy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// APIPath is the path prefix of every v3 endpoint.
const APIPath = "/api/v3"

// Client talks to one instance. Prefix is the path the instance is served
// under and is empty for instances at the domain root.
type Client struct {
	Client   *http.Client
	Insecure bool
	Host     string
	Prefix   string
	Auth     *Auth

	limiter *rate.Limiter
}

// Auth holds the bearer credential sent with each request.
type Auth struct {
	Username string
	Jwt      string
}

type ClientOption func(*Client)

func NewClient(opts ...ClientOption) *Client {
	c := Client{
		Client:   http.DefaultClient,
		Insecure: false,
	}
	for _, o := range opts {
		o(&c)
	}
	return &c
}

func WithInsecure() ClientOption                  { return func(c *Client) { c.Insecure = true } }
func WithJwt(token string) ClientOption           { return func(c *Client) { c.Auth = &Auth{Jwt: token} } }
func WithHost(host string) ClientOption           { return func(c *Client) { c.Host = host } }
func WithClient(client *http.Client) ClientOption { return func(c *Client) { c.Client = client } }

// WithRateLimit limits the client to rps requests per second. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithEnv() ClientOption {
	return func(c *Client) {
		if v, ok := os.LookupEnv("LEMMY_INSTANCE"); ok {
			WithURL(v)(c)
		}
		if v, ok := os.LookupEnv("LEMMY_CLIENT_INSECURE"); ok {
			insecure, err := strconv.ParseBool(v)
			if err == nil {
				c.Insecure = insecure
			}
		}
		if v, ok := os.LookupEnv("LEMMY_JWT"); ok {
			c.Auth = &Auth{Jwt: v}
		}
	}
}

// WithURL points the client at an instance base url. Userinfo in the url
// is used as the username and jwt.
func WithURL(uri string) ClientOption {
	u, err := url.Parse(uri)
	if err != nil {
		slog.Error("Failed to parse url in lemmy.WithURL", "error", err)
		return func(c *Client) {}
	}
	return func(c *Client) {
		c.setURL(u)
		if u.User != nil {
			pw, ok := u.User.Password()
			if ok {
				c.Auth = &Auth{Username: u.User.Username(), Jwt: pw}
			}
		}
	}
}

func (c *Client) setURL(u *url.URL) {
	c.Host = u.Host
	c.Insecure = u.Scheme == "http"
	c.Prefix = strings.TrimSuffix(u.Path, "/")
}

// At returns a copy of the client that talks to another instance. The copy
// carries no credentials.
func (c *Client) At(instance *url.URL) *Client {
	cp := Client{
		Client:  c.Client,
		limiter: c.limiter,
	}
	cp.setURL(instance)
	return &cp
}

// WithToken returns a copy of the client authenticated with jwt.
func (c *Client) WithToken(username, jwt string) *Client {
	cp := *c
	cp.Auth = &Auth{Username: username, Jwt: jwt}
	return &cp
}

// BaseURL is the instance url the client sends requests to.
func (c *Client) BaseURL() *url.URL {
	u := url.URL{Scheme: "https", Host: c.Host, Path: c.Prefix}
	if c.Insecure {
		u.Scheme = "http"
	}
	return &u
}

func (c *Client) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var res LoginResponse
	err := c.dojson(ctx, http.MethodPost, "user/login", nil, req, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetComments(ctx context.Context, req *GetCommentsRequest) ([]CommentView, error) {
	var (
		res GetCommentsResponse
		q   = req.values()
	)
	if c.Auth != nil {
		q.Set("auth", c.Auth.Jwt)
	}
	err := c.dojson(ctx, http.MethodGet, "comment/list", q, nil, &res)
	if err != nil {
		return nil, err
	}
	return res.Comments, nil
}

func (c *Client) CreateComment(ctx context.Context, req *CreateCommentRequest) (*CommentView, error) {
	var res CommentResponse
	body := *req
	if c.Auth != nil && len(body.Auth) == 0 {
		body.Auth = c.Auth.Jwt
	}
	err := c.dojson(ctx, http.MethodPost, "comment", nil, &body, &res)
	if err != nil {
		return nil, err
	}
	return &res.CommentView, nil
}

func (c *Client) url(p string, q url.Values) *url.URL {
	u := c.BaseURL()
	u.Path = path.Join(c.Prefix, APIPath, p)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

func (c *Client) dojson(ctx context.Context, method, p string, q url.Values, body, dst any) error {
	res, err := c.do(ctx, method, p, q, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return errors.WithStack(json.NewDecoder(res.Body).Decode(dst))
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, body any) (*http.Response, error) {
	if len(c.Host) == 0 {
		return nil, errors.New("lemmy client has no instance host")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	u := c.url(p, q)
	req := http.Request{
		Method: method,
		Host:   u.Host,
		URL:    u,
		Header: make(http.Header),
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		req.Body = io.NopCloser(bytes.NewReader(b))
		req.ContentLength = int64(len(b))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Auth != nil && len(c.Auth.Jwt) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.Auth.Jwt)
	}

	res, err := c.Client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if res.StatusCode >= 400 {
		defer res.Body.Close()
		e := ErrorResponse{Status: res.StatusCode}
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, e.Wrap(err)
		}
		if err = json.Unmarshal(raw, &e); err != nil || len(e.Code) == 0 {
			// Some reverse proxies answer with plain text or html.
			e.Code = CodeFromStatus(res.StatusCode)
			e.Message = strings.TrimSpace(string(raw))
		}
		return nil, errors.WithStack(&e)
	}
	return res, nil
}
