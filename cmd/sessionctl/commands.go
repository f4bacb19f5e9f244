package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/config"
	"github.com/jrsteele09/go-auth-session/pipeline"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	baseURL     string
	backend     string
	boltPath    string
	redisAddr   string
	logLevel    string
	permissive  bool
	showMetrics bool
	banner      bool
}

// newRootCommand returns the CLI and a cleanup that releases whatever the
// command opened, whether or not it succeeded.
func newRootCommand() (*cobra.Command, func()) {
	flags := &rootFlags{}
	var a *app

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "sessionctl manages an authenticated API session",
		Long:          "A command-line client that logs in to an auth API, keeps the session fresh and sends authenticated requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.New(flags.overrides()...)
			setupLogging(cfg.GetLogLevel())
			if flags.banner {
				displayAppname(cfg.GetAppName())
			}
			var err error
			a, err = newApp(cmd.Context(), cfg, flags.permissive)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.baseURL, "api", "", "API base URL (default $API_BASE_URL or http://localhost:8080)")
	pf.StringVar(&flags.backend, "backend", config.BackendBolt, "session backend: memory, redis or bolt")
	pf.StringVar(&flags.boltPath, "bolt-path", "", "bolt session file (default $BOLT_PATH)")
	pf.StringVar(&flags.redisAddr, "redis-addr", "", "redis address (default $REDIS_ADDR)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (default $LOG_LEVEL or info)")
	pf.BoolVar(&flags.permissive, "permissive", false, "accept login responses without a token (stub servers only)")
	pf.BoolVar(&flags.showMetrics, "metrics", false, "print request and refresh counters on exit")
	pf.BoolVar(&flags.banner, "banner", false, "print the application banner")

	appFn := func() *app { return a }
	root.AddCommand(
		newLoginCommand(appFn),
		newLogoutCommand(appFn),
		newStatusCommand(appFn),
		newRegisterCommand(appFn),
		newCallbackCommand(appFn),
		newGetCommand(appFn),
	)
	cleanup := func() {
		if a == nil {
			return
		}
		if flags.showMetrics {
			a.printMetrics()
		}
		a.close()
	}
	return root, cleanup
}

func (f *rootFlags) overrides() []config.Option {
	var options []config.Option
	add := func(name, value string) {
		if value != "" {
			options = append(options, config.With(name, value))
		}
	}
	add("API_BASE_URL", f.baseURL)
	add("SESSION_BACKEND", f.backend)
	add("BOLT_PATH", f.boltPath)
	add("REDIS_ADDR", f.redisAddr)
	add("LOG_LEVEL", f.logLevel)
	return options
}

func printSession(s *sessions.Session) {
	if s == nil {
		fmt.Printf("%slogged out%s\n", Gray, ResetColor)
		return
	}
	fmt.Printf("%slogged in%s as %s <%s>\n", Green, ResetColor, s.User.Name, s.User.Email)
	fmt.Printf("  user id:     %s\n", s.User.ID)
	if len(s.User.Roles) > 0 {
		fmt.Printf("  roles:       %s\n", strings.Join(s.User.Roles, ", "))
	}
	if s.HasExpiry() {
		fmt.Printf("  expires:     %s (in %s)\n", s.ExpiresAt.Format(time.RFC3339), time.Until(s.ExpiresAt).Round(time.Second))
	} else {
		fmt.Printf("  expires:     unknown (opaque token)\n")
	}
	fmt.Printf("  refreshable: %t\n", s.CanRefresh())
}

func failed(err error) error {
	return fmt.Errorf("%s%w%s", errorColour(err), err, ResetColor)
}

func newLoginCommand(a func() *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("SESSIONCTL_PASSWORD")
			}
			session, err := a().manager.Login(cmd.Context(), email, password)
			if err != nil {
				return failed(err)
			}
			printSession(session)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default $SESSIONCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			a().manager.Logout(cmd.Context())
			printSession(nil)
		},
	}
}

func newStatusCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session, refreshing it if it is about to expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := a().manager.CheckSession(cmd.Context())
			if err != nil {
				return failed(err)
			}
			printSession(session)
			return nil
		},
	}
}

func newRegisterCommand(a func() *app) *cobra.Command {
	var r auth.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not log in)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if r.Password == "" {
				r.Password = os.Getenv("SESSIONCTL_PASSWORD")
			}
			result, err := a().manager.Register(cmd.Context(), r)
			if err != nil {
				return failed(err)
			}
			fmt.Printf("%sregistered%s %s\n", Green, ResetColor, r.Email)
			if result.Message != "" {
				fmt.Printf("  %s\n", result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&r.Email, "email", "", "account email")
	cmd.Flags().StringVar(&r.Password, "password", "", "account password (default $SESSIONCTL_PASSWORD)")
	cmd.Flags().StringVar(&r.Name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCallbackCommand(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "callback <redirect-url>",
		Short: "Complete an OAuth login from the provider's redirect URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid redirect url: %w", err)
			}
			session, err := a().manager.CompleteOAuthCallback(cmd.Context(), u)
			if err != nil {
				return failed(err)
			}
			printSession(session)
			return nil
		},
	}
}

func newGetCommand(a func() *app) *cobra.Command {
	var (
		method     string
		data       string
		idempotent bool
	)
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send an authenticated request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &pipeline.Request{
				Method:     strings.ToUpper(method),
				Path:       args[0],
				Idempotent: idempotent,
			}
			if data != "" {
				req.Body = []byte(data)
			}
			resp, err := a().manager.Send(cmd.Context(), req)
			if err != nil {
				return failed(err)
			}
			fmt.Printf("%s%d %s%s\n", statusColour(resp.StatusCode), resp.StatusCode, http.StatusText(resp.StatusCode), ResetColor)
			if len(resp.Body) > 0 {
				fmt.Println(string(resp.Body))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&idempotent, "idempotent", false, "allow retrying a non-GET request on 5xx")
	return cmd
}
