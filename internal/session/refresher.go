package session

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/internal/account"
	"github.com/harrybrwn/lem/lemmy"
)

var (
	ErrIncorrectLogin    = errors.New("incorrect username or password")
	ErrTwoFactorRequired = errors.New("two factor code required")
	ErrBusy              = errors.New("a refresh is already in progress")
	ErrClosed            = errors.New("refresh flow is closed")
	ErrNoCode            = errors.New("no two factor code was requested")
)

// DefaultSuccessDelay is how long the success state is shown before the
// refreshed account is handed back.
const DefaultSuccessDelay = 500 * time.Millisecond

// Authenticator logs a user into an instance.
type Authenticator interface {
	Login(ctx context.Context, instance *url.URL, req *lemmy.LoginRequest) (*lemmy.LoginResponse, error)
}

type AuthenticatorFunc func(ctx context.Context, instance *url.URL, req *lemmy.LoginRequest) (*lemmy.LoginResponse, error)

func (fn AuthenticatorFunc) Login(ctx context.Context, instance *url.URL, req *lemmy.LoginRequest) (*lemmy.LoginResponse, error) {
	return fn(ctx, instance, req)
}

// ClientAuthenticator logs in with c on whichever instance it is asked to.
func ClientAuthenticator(c *lemmy.Client) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context, instance *url.URL, req *lemmy.LoginRequest) (*lemmy.LoginResponse, error) {
		return c.At(instance).Login(ctx, req)
	})
}

type Option func(*Refresher)

func WithSuccessDelay(d time.Duration) Option { return func(r *Refresher) { r.delay = d } }
func WithNotifier(n Notifier) Option          { return func(r *Refresher) { r.notifier = n } }
func WithLogger(l *slog.Logger) Option        { return func(r *Refresher) { r.logger = l } }

// WithObserver calls fn with every state the flow moves into.
func WithObserver(fn func(State)) Option { return func(r *Refresher) { r.observer = fn } }

// WithRefreshed calls fn with the refreshed account once the flow succeeds.
func WithRefreshed(fn func(account.Account)) Option {
	return func(r *Refresher) { r.refreshed = fn }
}

// Refresher re-authenticates an account whose session has expired.
type Refresher struct {
	api       Authenticator
	account   account.Account
	delay     time.Duration
	notifier  Notifier
	observer  func(State)
	refreshed func(account.Account)
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	twoFactor bool
	focus     Field
	password  string
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(acct account.Account, api Authenticator, opts ...Option) *Refresher {
	r := Refresher{
		api:       api,
		account:   acct,
		delay:     DefaultSuccessDelay,
		notifier:  NotifierFunc(func(Signal) {}),
		observer:  func(State) {},
		refreshed: func(account.Account) {},
		logger:    slog.Default(),
		state:     StateInitial,
		focus:     FieldPassword,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(&r)
	}
	return &r
}

// Account is the account being refreshed.
func (r *Refresher) Account() account.Account { return r.account }

func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ControlsDisabled reports whether the password input and the cancel
// action should be disabled.
func (r *Refresher) ControlsDisabled() bool { return r.State().ControlsDisabled() }

// TwoFactorRequired reports whether the one-time code input is revealed.
func (r *Refresher) TwoFactorRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.twoFactor
}

// Focus is the input that should have focus.
func (r *Refresher) Focus() Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focus
}

// Done is closed when the flow succeeds or is cancelled.
func (r *Refresher) Done() <-chan struct{} { return r.done }

// Cancel dismisses the flow. A login still in flight is abandoned and its
// result is never applied.
func (r *Refresher) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Refresher) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.password = ""
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	close(r.done)
}

// Refresh logs in with a password and an optional one-time code and
// returns the new token. Failures can be matched against
// [ErrIncorrectLogin] and [ErrTwoFactorRequired].
func (r *Refresher) Refresh(ctx context.Context, password, totp string) (string, error) {
	if r.account.Instance == nil {
		return "", errors.New("account has no instance url")
	}
	req := lemmy.LoginRequest{
		UsernameOrEmail: r.account.Username,
		Password:        password,
	}
	if len(totp) > 0 {
		req.Totp2faToken = &totp
	}
	res, err := r.api.Login(ctx, r.account.Instance, &req)
	if err != nil {
		return "", classify(err)
	}
	if res == nil || res.Jwt == nil || len(*res.Jwt) == 0 {
		return "", errors.New("instance did not issue a token")
	}
	return *res.Jwt, nil
}

// Submit starts a refresh with a new password. It returns the state the
// flow settled in. Login failures are not returned as errors, they move
// the flow into a state that asks for input again.
func (r *Refresher) Submit(ctx context.Context, password string) (State, error) {
	return r.submit(ctx, password, "", false)
}

// SubmitCode retries the refresh with a one-time code after the instance
// asked for one.
func (r *Refresher) SubmitCode(ctx context.Context, code string) (State, error) {
	r.mu.Lock()
	twoFactor, password := r.twoFactor, r.password
	r.mu.Unlock()
	if !twoFactor {
		return r.State(), ErrNoCode
	}
	return r.submit(ctx, password, code, true)
}

func (r *Refresher) submit(ctx context.Context, password, code string, withCode bool) (State, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.state, ErrClosed
	}
	if r.state.ControlsDisabled() {
		state := r.state
		r.mu.Unlock()
		return state, ErrBusy
	}
	lctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.password = password
	r.state = StateRefreshing
	r.mu.Unlock()
	r.observer(StateRefreshing)

	var totp string
	if withCode {
		totp = code
	}
	token, err := r.Refresh(lctx, password, totp)

	r.mu.Lock()
	cancel()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("discarding login result for cancelled refresh",
			slog.String("account", r.account.String()))
		return StateRefreshing, ErrClosed
	}
	r.cancel = nil
	if err != nil {
		state := r.failLocked(err)
		r.mu.Unlock()
		r.notifier.Notify(SignalFailure)
		r.observer(state)
		return state, nil
	}
	r.state = StateSuccess
	r.focus = FieldNone
	r.mu.Unlock()
	r.notifier.Notify(SignalSuccess)
	r.observer(StateSuccess)
	return r.finish(ctx, token)
}

func (r *Refresher) failLocked(err error) State {
	switch {
	case errors.Is(err, ErrIncorrectLogin):
		r.state = StateIncorrectLogin
		r.focus = FieldPassword
	case errors.Is(err, ErrTwoFactorRequired):
		r.state = StateInitial
		r.twoFactor = true
		r.focus = FieldOneTimeCode
	default:
		r.state = StateInitial
	}
	r.logger.Debug("session refresh failed",
		slog.String("account", r.account.String()),
		slog.String("state", r.state.String()),
		slog.Any("error", err))
	return r.state
}

// finish waits out the success delay then hands back the new account.
func (r *Refresher) finish(ctx context.Context, token string) (State, error) {
	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.done:
			return StateSuccess, ErrClosed
		case <-ctx.Done():
			r.Cancel()
			return StateSuccess, errors.WithStack(ctx.Err())
		}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return StateSuccess, ErrClosed
	}
	r.closeLocked()
	r.mu.Unlock()

	refreshed := r.account.WithToken(token)
	r.logger.Info("session refreshed", slog.String("account", refreshed.String()))
	r.refreshed(refreshed)
	return StateSuccess, nil
}

type loginError struct {
	kind error
	err  error
}

func (e *loginError) Error() string        { return e.kind.Error() + ": " + e.err.Error() }
func (e *loginError) Unwrap() error        { return e.err }
func (e *loginError) Is(target error) bool { return target == e.kind }

func classify(err error) error {
	e, ok := lemmy.AsError(err)
	if !ok {
		return errors.WithStack(err)
	}
	switch {
	case e.IsIncorrectLogin():
		return &loginError{kind: ErrIncorrectLogin, err: err}
	case e.RequiresTwoFactor():
		return &loginError{kind: ErrTwoFactorRequired, err: err}
	}
	return errors.WithStack(err)
}
