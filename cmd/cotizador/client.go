package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cotizador/cotizador/internal/backend"
	"github.com/cotizador/cotizador/internal/config"
	"github.com/cotizador/cotizador/internal/platform/auth"
	"github.com/cotizador/cotizador/internal/platform/gateway"
)

// tokenEnv holds a session token for tool commands going through a gateway.
const tokenEnv = "COTIZADOR_TOKEN"

// addClientFlags registers the flags that pick how tool commands reach the
// backend: directly with the service secret, or through a running gateway
// with a session token.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("gateway", "", "Gateway base URL (e.g. http://localhost:3001); calls go through /api/backend")
	cmd.PersistentFlags().String("token", "", "Session token for --gateway (default $"+tokenEnv+")")
	cmd.PersistentFlags().String("as", "", "User email sent as X-User-Email on direct backend calls")
	cmd.PersistentFlags().Duration("timeout", backend.DefaultTimeout, "Per-call timeout")
}

// clientOptions is the parsed form of the client flags.
type clientOptions struct {
	Gateway string
	Token   string
	As      string
	Timeout time.Duration
}

func readClientOptions(cmd *cobra.Command) clientOptions {
	var o clientOptions
	o.Gateway, _ = cmd.Flags().GetString("gateway")
	o.Token, _ = cmd.Flags().GetString("token")
	o.As, _ = cmd.Flags().GetString("as")
	o.Timeout, _ = cmd.Flags().GetDuration("timeout")
	if o.Token == "" {
		o.Token = os.Getenv(tokenEnv)
	}
	return o
}

// newBackendClient builds the client described by o.
func newBackendClient(cfg *config.Config, o clientOptions) (*backend.Client, error) {
	opts := []backend.Option{backend.WithHTTPClient(&http.Client{Timeout: o.Timeout})}

	if o.Gateway != "" {
		if o.Token == "" {
			return nil, fmt.Errorf("--gateway needs a session token (--token or $%s)", tokenEnv)
		}
		base := strings.TrimSuffix(o.Gateway, "/") + gateway.Prefix
		return backend.New(base, append(opts, backend.WithBearer(o.Token))...), nil
	}

	if cfg.BackendAPISecret == "" {
		return nil, fmt.Errorf("BACKEND_API_SECRET is required to call the backend directly")
	}
	opts = append(opts, backend.WithBearer(cfg.BackendAPISecret))
	if o.As != "" {
		opts = append(opts, backend.WithHeader("X-User-Email", o.As))
	}
	return backend.New(cfg.BackendURL, opts...), nil
}

func clientFromFlags(cmd *cobra.Command) (*backend.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	c, err := newBackendClient(cfg, readClientOptions(cmd))
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(buf))
	return nil
}

func pingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the backend health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res := gateway.Ping(ctx, &http.Client{Timeout: timeout}, cfg.BackendURL)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("backend is %s", res.Backend)
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Second, "Ping timeout")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue and inspect session tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := auth.Identity{}
			id.UserID, _ = cmd.Flags().GetString("id")
			id.Email, _ = cmd.Flags().GetString("email")
			id.Name, _ = cmd.Flags().GetString("name")
			if !id.Present() {
				return fmt.Errorf("--id or --email is required")
			}

			resolver, err := configuredResolver()
			if err != nil {
				return err
			}
			token, exp, err := resolver.Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	issueCmd.Flags().String("id", "", "User id")
	issueCmd.Flags().String("email", "", "User email")
	issueCmd.Flags().String("name", "", "User display name")

	verifyCmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify a session token and print its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := configuredResolver()
			if err != nil {
				return err
			}
			id, err := resolver.Verify(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, id)
		},
	}

	cmd.AddCommand(issueCmd)
	cmd.AddCommand(verifyCmd)
	return cmd
}

// configuredResolver requires SESSION_SECRET. The random development key of
// serve is never used here.
func configuredResolver() (*auth.SessionResolver, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	return newSessionResolver(cfg, []byte(cfg.SessionSecret)), nil
}
