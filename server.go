package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/harrybrwn/lem/internal/lemmytest"
	"github.com/harrybrwn/lem/internal/middleware"
)

func newServerCmd() *cobra.Command {
	var (
		addr  = ":8536"
		users []string
		seed  bool
	)
	c := cobra.Command{
		Use:   "server",
		Short: "Start a small fake lemmy instance for testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ctx    = cmd.Context()
				logger = slog.Default()
				srv    = lemmytest.New()
			)
			for _, u := range users {
				name, password, ok := strings.Cut(u, ":")
				if !ok {
					return errors.Errorf("user %q should look like name:password[:code]", u)
				}
				password, code, twoFactor := strings.Cut(password, ":")
				srv.AddUser(name, password)
				if twoFactor {
					srv.EnableTwoFactor(name, code)
				}
			}
			if seed {
				srv.AddComments(1,
					lemmytest.Comment(1),
					lemmytest.Comment(2, 1),
					lemmytest.Comment(3, 1),
					lemmytest.Comment(4, 1, 2),
					lemmytest.Comment(5),
				)
			}
			s := http.Server{
				Addr:              addr,
				Handler:           middleware.NewRequestLogger(logger)(srv),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shut down server", "error", err)
				}
			}()
			logger.Info("starting server", "addr", addr, "users", len(users))
			err := s.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.WithStack(err)
		},
	}
	c.Flags().StringVar(&addr, "addr", addr, "address to listen on")
	c.Flags().StringArrayVarP(&users, "user", "u", users, "add a user as name:password or name:password:code")
	c.Flags().BoolVar(&seed, "seed", seed, "add a sample comment thread to post 1")
	return &c
}
