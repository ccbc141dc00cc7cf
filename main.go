package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrybrwn/lem/internal/account"
	"github.com/harrybrwn/lem/internal/accountstore"
	"github.com/harrybrwn/lem/internal/comments"
	"github.com/harrybrwn/lem/internal/report"
	"github.com/harrybrwn/lem/internal/session"
	"github.com/harrybrwn/lem/lemmy"
)

// maxAttempts is how many failed logins a refresh tolerates.
const maxAttempts = 3

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var (
		ctx         = newContext()
		logLevelStr = getEnv("LEM_LOG_LEVEL", "warn")
	)
	c := cobra.Command{
		Use:           "lem",
		Short:         "Read and write lemmy comments from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			var lvl slog.Level
			if err = lvl.UnmarshalText([]byte(logLevelStr)); err != nil {
				return err
			}
			if ctx.debug {
				lvl = slog.LevelDebug
			}
			l := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: lvl,
			}))
			slog.SetDefault(l)
			ctx.logger = l
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.cleanup()
		},
	}
	c.AddCommand(
		newLoginCmd(ctx),
		newRefreshCmd(ctx),
		newCommentsCmd(ctx),
		newCommentCmd(ctx),
		newAccountsCmd(ctx),
		newWhoamiCmd(ctx),
		newCacheCmd(ctx),
		newServerCmd(),
	)
	f := c.PersistentFlags()
	f.StringVar(&ctx.dbPath, "db", ctx.dbPath, "account database, a sqlite file or a postgres:// url")
	f.StringVarP(&ctx.instance, "instance", "i", ctx.instance, "lemmy instance to talk to")
	f.StringVarP(&ctx.account, "account", "a", ctx.account, "saved account to use as an id or user@instance")
	f.DurationVar(&ctx.timeout, "timeout", ctx.timeout, "http request timeout")
	f.DurationVar(&ctx.cacheTTL, "cache-ttl", ctx.cacheTTL, "cache responses for this long, 0 disables the cache")
	f.Float64Var(&ctx.rate, "rate", ctx.rate, "maximum requests per second, 0 disables the limit")
	f.DurationVar(&ctx.successDelay, "success-delay", ctx.successDelay, "pause after a successful login")
	f.StringVarP(&logLevelStr, "log-level", "l", logLevelStr, "set the log level (debug|info|warn|error)")
	f.BoolVarP(&ctx.debug, "debug", "d", ctx.debug, "turn on debug mode")
	return &c
}

func newLoginCmd(cx *Context) *cobra.Command {
	c := cobra.Command{
		Use:   "login <username|user@instance>",
		Short: "Log in and save the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			username, host, found := strings.Cut(args[0], "@")
			if !found {
				host = cx.instance
			}
			if len(host) == 0 {
				return errors.New("no instance given, use user@instance or --instance")
			}
			acct := account.Account{Instance: instanceURL(host), Username: username}
			if existing, err := cx.store.Find(ctx, acct.Instance, username); err == nil {
				acct = existing.Account
			}
			rec, err := refreshSession(cmd, cx, acct)
			if err != nil {
				return err
			}
			if err = cx.store.SetActive(ctx, rec.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", rec.Account)
			return nil
		},
	}
	return &c
}

func newRefreshCmd(cx *Context) *cobra.Command {
	c := cobra.Command{
		Use:   "refresh",
		Short: "Log in again when an account's session has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			rec, err := cx.selected(ctx)
			if err != nil {
				return err
			}
			rec, err = refreshSession(cmd, cx, rec.Account)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed session for %s\n", rec.Account)
			return nil
		},
	}
	return &c
}

// refreshSession prompts for credentials until the account is logged in
// and saves the new token.
func refreshSession(cmd *cobra.Command, cx *Context, acct account.Account) (*accountstore.Record, error) {
	var (
		ctx       = cmd.Context()
		stderr    = cmd.ErrOrStderr()
		p         = newPrompter(cmd.InOrStdin(), stderr)
		refreshed *account.Account
	)
	r := session.New(acct, session.ClientAuthenticator(cx.client),
		session.WithSuccessDelay(cx.successDelay),
		session.WithLogger(cx.logger),
		session.WithNotifier(bell(stderr)),
		session.WithRefreshed(func(a account.Account) { refreshed = &a }),
	)
	defer r.Cancel()
	fmt.Fprintf(stderr, "Logging in as %s\n", acct)

	for failures := 0; failures < maxAttempts; {
		var (
			input string
			state session.State
			err   error
			field = r.Focus()
		)
		if field == session.FieldOneTimeCode {
			if input, err = p.ask("Two factor code: "); err != nil {
				return nil, err
			}
			state, err = r.SubmitCode(ctx, strings.TrimSpace(input))
		} else {
			if input, err = p.secret("Password: "); err != nil {
				return nil, err
			}
			state, err = r.Submit(ctx, input)
		}
		if err != nil {
			return nil, err
		}
		switch {
		case state == session.StateSuccess:
			if refreshed == nil {
				return nil, errors.New("login finished without a session")
			}
			return cx.store.Put(ctx, *refreshed)
		case state == session.StateIncorrectLogin:
			fmt.Fprintln(stderr, "Incorrect username or password.")
			failures++
		case field != session.FieldOneTimeCode && r.Focus() == session.FieldOneTimeCode:
			fmt.Fprintln(stderr, "This account requires a two factor code.")
		default:
			fmt.Fprintln(stderr, "Login failed, please try again.")
			failures++
		}
	}
	return nil, errors.New("too many failed login attempts")
}

func newCommentsCmd(cx *Context) *cobra.Command {
	var (
		sort     = "hot"
		maxDepth = 8
		limit    = 50
		asJSON   bool
		anon     bool
	)
	c := cobra.Command{
		Use:     "comments <post-id>...",
		Aliases: []string{"c"},
		Short:   "Show the comment tree of posts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			ids := make([]int64, len(args))
			for i, arg := range args {
				id, ok := parseID(arg)
				if !ok {
					return errors.Errorf("invalid post id %q", arg)
				}
				ids[i] = id
			}
			sortType, err := lemmy.ParseCommentSort(sort)
			if err != nil {
				return err
			}
			client := cx.client
			if !anon {
				if rec, err := cx.selected(ctx); err == nil {
					warnExpired(cx.logger, &rec.Account)
					client = cx.clientFor(&rec.Account)
				} else if len(cx.instance) == 0 {
					return err
				}
			}
			repo := comments.NewRepository(client, cliReporter(cmd.ErrOrStderr(), cx.logger),
				comments.WithSort(sortType),
				comments.WithMaxDepth(maxDepth),
				comments.WithLimit(limit),
				comments.WithLogger(cx.logger),
			)
			forests := make([][]comments.HierarchicalComment, len(ids))
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(4)
			for i, id := range ids {
				g.Go(func() error {
					forests[i] = repo.Comments(ctx, id)
					return nil
				})
			}
			if err = g.Wait(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, forest := range forests {
				if asJSON {
					if err = jsonIndent(out, forest); err != nil {
						return err
					}
					continue
				}
				if len(ids) > 1 {
					fmt.Fprintf(out, "post %d:\n", ids[i])
				}
				printForest(out, forest)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&sort, "sort", "s", sort, "comment sort (hot|active|top|new|old)")
	c.Flags().IntVar(&maxDepth, "max-depth", maxDepth, "deepest reply level to fetch")
	c.Flags().IntVar(&limit, "limit", limit, "maximum comments to fetch per post")
	c.Flags().BoolVar(&asJSON, "json", asJSON, "print the comment tree as json")
	c.Flags().BoolVar(&anon, "anonymous", anon, "fetch comments without logging in")
	return &c
}

func newCommentCmd(cx *Context) *cobra.Command {
	var (
		parent   int64
		language int64
	)
	c := cobra.Command{
		Use:   "comment <post-id> <text>...",
		Short: "Post a comment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			postID, ok := parseID(args[0])
			if !ok {
				return errors.Errorf("invalid post id %q", args[0])
			}
			rec, err := cx.selected(ctx)
			if err != nil {
				return err
			}
			draft := comments.Draft{Content: strings.Join(args[1:], " "), PostID: postID}
			if cmd.Flags().Changed("parent") {
				draft.ParentID = &parent
			}
			if cmd.Flags().Changed("language") {
				draft.LanguageID = &language
			}
			create := func(acct *account.Account) (*comments.HierarchicalComment, error) {
				repo := comments.NewRepository(cx.clientFor(acct), nil, comments.WithLogger(cx.logger))
				return repo.Create(ctx, draft)
			}
			hc, err := create(&rec.Account)
			if e, ok := lemmy.AsError(err); ok && e.IsNotLoggedIn() {
				fmt.Fprintf(cmd.ErrOrStderr(), "The session for %s has expired.\n", rec.Account)
				if rec, err = refreshSession(cmd, cx, rec.Account); err != nil {
					return err
				}
				hc, err = create(&rec.Account)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", hc.ID())
			return nil
		},
	}
	c.Flags().Int64VarP(&parent, "parent", "p", parent, "comment to reply to")
	c.Flags().Int64Var(&language, "language", language, "language id of the comment")
	return &c
}

func newAccountsCmd(cx *Context) *cobra.Command {
	c := cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "List saved accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			records, err := cx.store.List(ctx)
			if err != nil {
				return err
			}
			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, rec := range records {
				var active, expired string
				if rec.Active {
					active = "*"
				}
				if rec.Expired(now) {
					expired = "expired"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", active, rec.ID, rec.Account, expired)
			}
			return tw.Flush()
		},
	}
	c.AddCommand(
		&cobra.Command{
			Use: "use <id|user@instance>", Short: "Switch the active account",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := cx.init(ctx); err != nil {
					return err
				}
				rec, err := cx.lookup(ctx, args[0])
				if err != nil {
					return err
				}
				return cx.store.SetActive(ctx, rec.ID)
			},
		},
		&cobra.Command{
			Use: "rm <id|user@instance>", Aliases: []string{"remove"}, Short: "Forget a saved account",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := cx.init(ctx); err != nil {
					return err
				}
				rec, err := cx.lookup(ctx, args[0])
				if err != nil {
					return err
				}
				return cx.store.Delete(ctx, rec.ID)
			},
		},
	)
	return &c
}

func newWhoamiCmd(cx *Context) *cobra.Command {
	c := cobra.Command{
		Use:   "whoami",
		Short: "Show the active account and its session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cx.init(ctx); err != nil {
				return err
			}
			rec, err := cx.selected(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:  %s\n", rec.Account)
			fmt.Fprintf(out, "id:       %d\n", rec.ID)
			claims, err := rec.Claims()
			if err != nil {
				fmt.Fprintf(out, "session:  unreadable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "user id:  %s\n", claims.Subject)
			fmt.Fprintf(out, "issuer:   %s\n", claims.Issuer)
			if !claims.IssuedAt.IsZero() {
				fmt.Fprintf(out, "issued:   %s\n", claims.IssuedAt.Local().Format(time.RFC1123))
			}
			if claims.ExpiresAt != nil {
				fmt.Fprintf(out, "expires:  %s\n", claims.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
	return &c
}

func newCacheCmd(cx *Context) *cobra.Command {
	c := cobra.Command{
		Use:   "cache",
		Short: "Manage cached responses.",
	}
	c.AddCommand(
		&cobra.Command{
			Use: "clear", Aliases: []string{"purge"}, Short: "Completely purge the cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				cache, err := cx.openCache(ctx, nil)
				if err != nil {
					return err
				}
				n, err := cache.Clear(ctx)
				if err != nil {
					return err
				}
				cx.logger.Info("cleared response cache", "entries", n)
				return nil
			},
		},
		&cobra.Command{
			Use: "prune", Short: "Remove expired responses",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				cache, err := cx.openCache(ctx, nil)
				if err != nil {
					return err
				}
				n, err := cache.Prune(ctx)
				if err != nil {
					return err
				}
				cx.logger.Info("pruned response cache", "entries", n)
				return nil
			},
		},
	)
	return &c
}

// cliReporter prints failures for the user and logs their cause.
func cliReporter(w io.Writer, logger *slog.Logger) report.Reporter {
	logged := report.NewLogger(logger)
	return report.Func(func(ctx context.Context, e *report.Error) {
		fmt.Fprintf(w, "%s. %s.\n", e.Title, e.Message)
		logged.Report(ctx, e)
	})
}

func printForest(w io.Writer, forest []comments.HierarchicalComment) {
	if len(forest) == 0 {
		fmt.Fprintln(w, "no comments")
		return
	}
	comments.Walk(forest, func(hc *comments.HierarchicalComment, depth int) bool {
		indent := strings.Repeat("  ", depth)
		c := &hc.Comment
		fmt.Fprintf(w, "%s#%d %s (%d points)\n", indent, c.Comment.ID, c.Creator.Name, c.Counts.Score)
		content := strings.TrimSpace(c.Comment.Content)
		switch {
		case c.Comment.Removed:
			content = "[removed]"
		case c.Comment.Deleted:
			content = "[deleted]"
		}
		for _, line := range strings.Split(content, "\n") {
			fmt.Fprintf(w, "%s  %s\n", indent, line)
		}
		return true
	})
}

func warnExpired(l *slog.Logger, acct *account.Account) {
	if acct.Expired(time.Now()) {
		l.Warn("account session has expired, run \"lem refresh\"", "account", acct.String())
	}
}

func jsonIndent(w io.Writer, v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	blob = append(blob, '\n')
	_, err = w.Write(blob)
	return err
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}
