package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/secstate/internal/application/bootstrap"
	"github.com/turtacn/secstate/internal/domain/models"
	domainService "github.com/turtacn/secstate/internal/domain/service"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/utils"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var eventType string
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "List security events, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				events := app.Manager.GetEvents(ctx)
				filtered := make([]models.SecurityEvent, 0, len(events))
				for _, ev := range events {
					if eventType != "" && string(ev.Type) != eventType {
						continue
					}
					filtered = append(filtered, ev)
					if limit > 0 && len(filtered) == limit {
						break
					}
				}
				return printJSON(cmd.OutOrStdout(), filtered)
			})
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of events to print (0 prints all)")
	eventsCmd.Flags().StringVarP(&eventType, "type", "t", "", "only print events of this type")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the signature chain of the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Manager.VerifyEventLog(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "event log intact")
				return nil
			})
		},
	}
	eventsCmd.AddCommand(verifyCmd)
	return eventsCmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored token pair",
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a valid access token is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				token, ok := app.Manager.GetToken(ctx)
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no valid token stored")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"access_token": utils.MaskToken(token),
					"jwt_valid":    app.Manager.IsTokenValid(token),
				})
			})
		},
	})

	var access, refresh string
	var expiresIn time.Duration
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store a token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if access == "" {
				return errors.New("--access is required")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				return app.Manager.SetToken(ctx, &models.TokenData{
					AccessToken:  access,
					RefreshToken: refresh,
					ExpiresAt:    time.Now().Add(expiresIn),
				})
			})
		},
	}
	setCmd.Flags().StringVar(&access, "access", "", "access token")
	setCmd.Flags().StringVar(&refresh, "refresh", "", "refresh token")
	setCmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "lifetime of the access token")

	tokenCmd.AddCommand(setCmd,
		&cobra.Command{
			Use:   "refresh",
			Short: "Exchange the refresh token for a new pair",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
					if !app.Manager.RefreshToken(ctx) {
						return errors.New("token refresh failed; see the event log for the reason")
					}
					fmt.Fprintln(cmd.OutOrStdout(), "token refreshed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove",
			Short: "Delete the stored token pair",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
					app.Manager.RemoveToken(ctx)
					return nil
				})
			},
		},
	)
	return tokenCmd
}

func newCSPCmd(opts *rootOptions) *cobra.Command {
	cspCmd := &cobra.Command{
		Use:   "csp",
		Short: "Inspect and edit the Content-Security-Policy",
	}

	cspCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current policy",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
					fmt.Fprintln(cmd.OutOrStdout(), app.CSP.PolicyString())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "validate <policy>",
			Short: "Check a serialized policy without loading any state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !domainService.ValidatePolicy(args[0]) {
					return secerrors.ErrInvalidRequest("invalid policy")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "policy valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <directive> [source...]",
			Short: "Add or replace one directive",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
					if err := app.Manager.UpdateCSPPolicy(ctx, args[0], args[1:]); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), app.CSP.PolicyString())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <directive>",
			Short: "Remove one directive",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
					if !app.Manager.RemoveCSPPolicy(ctx, args[0]) {
						return secerrors.ErrNotFound("directive " + args[0])
					}
					fmt.Fprintln(cmd.OutOrStdout(), app.CSP.PolicyString())
					return nil
				})
			},
		},
	)
	return cspCmd
}

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the device fingerprint and its components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				fp, err := app.Manager.DeviceFingerprint(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), fp)
			})
		},
	}
}

func newHeadersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "headers",
		Short: "Print the response security headers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				headers := app.Manager.GetSecureHeaders()
				names := make([]string, 0, len(headers))
				for name := range headers {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, headers[name])
				}
				return nil
			})
		},
	}
}

func newPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password <password>",
		Short: "Check a password against the password policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems := utils.CheckPasswordStrength(args[0])
			if len(problems) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "password ok")
				return nil
			}
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), "- "+p)
			}
			return errors.New("password does not meet the policy")
		},
	}
}

func newURLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "url <url>",
		Short: "Validate a URL against the allowed domains and print its normalized form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				sanitized := app.Manager.SanitizeURL(ctx, args[0])
				if sanitized == "" {
					return secerrors.ErrInvalidRequest("url rejected")
				}
				fmt.Fprintln(cmd.OutOrStdout(), sanitized)
				return nil
			})
		},
	}
}

func newRateLimitCmd(opts *rootOptions) *cobra.Command {
	var limit models.RateLimitConfig
	rateLimitCmd := &cobra.Command{
		Use:   "ratelimit <key>",
		Short: "Show the current window of a rate limit key",
		Long:  "Show the current window of a rate limit key. Without --window and --max-requests the limit configured under security.rate_limits applies.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				cfg := limit
				if !cmd.Flags().Changed("window") && !cmd.Flags().Changed("max-requests") {
					configured, ok := app.Config.Security.RateLimitFor(args[0])
					if !ok {
						return secerrors.ErrNotFound("rate limit for " + args[0])
					}
					cfg = configured
				}
				usage, err := app.Manager.RateLimitUsage(ctx, args[0], cfg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), usage)
			})
		},
	}
	rateLimitCmd.Flags().DurationVar(&limit.Window, "window", time.Minute, "window length")
	rateLimitCmd.Flags().IntVar(&limit.MaxRequests, "max-requests", 60, "requests allowed per window")
	return rateLimitCmd
}

func newUnblockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <identity>",
		Short: "Lift the block of an identity and forget its failed attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				return app.Manager.ClearFailedAttempts(ctx, args[0])
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every persisted security key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to wipe security data without --yes")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				removed := app.Manager.ClearSecurityData(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s\n", removed, plural(removed, "key"))
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the wipe")
	return clearCmd
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return strings.TrimSuffix(word, "s") + "s"
}
