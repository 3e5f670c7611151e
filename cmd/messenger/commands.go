package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"messenger/cmd/identity"
	"messenger/cmd/internal/app"

	jw "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadRuntime() (app.Config, app.Logger) {
	cfg := app.LoadConfig()
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the websocket gateway and the notification consumer.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, log := loadRuntime()
		return app.Serve(ctx, cfg, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the conversation tables in MESSENGER_DB_SCHEMA.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, log := loadRuntime()
		if cfg.DatabaseURL == "" {
			return errors.New("MESSENGER_DATABASE_URL is not set")
		}
		return app.Migrate(ctx, cfg, log)
	},
}

var (
	repairID   string
	repairRate int
)

var repairCmd = &cobra.Command{
	Use:   "repair-participants",
	Short: "Restore missing participant rows from conversation creators and message senders.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, log := loadRuntime()
		if cfg.DatabaseURL == "" {
			return errors.New("MESSENGER_DATABASE_URL is not set")
		}
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if id := strings.TrimSpace(repairID); id != "" {
			added, err := a.Service().RepairParticipants(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conversation %s: %d participant(s) added\n", id, added)
			return nil
		}

		rep, err := a.Service().RepairAllParticipants(ctx, repairRate)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Development helpers for bearer tokens.",
}

var tokenJWTCmd = &cobra.Command{
	Use:   "jwt",
	Short: "Sign an HS256 token for --sub with MESSENGER_JWT_SECRET.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := app.LoadConfig()
		if cfg.JWTSecret == "" {
			return errors.New("MESSENGER_JWT_SECRET is not set")
		}
		now := time.Now()
		claims := jw.MapClaims{"sub": tokenSubject, "iat": now.Unix(), "exp": now.Add(tokenTTL).Unix()}
		if cfg.JWTIssuer != "" {
			claims["iss"] = cfg.JWTIssuer
		}
		tok, err := jw.NewWithClaims(jw.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var tokenPasetoCmd = &cobra.Command{
	Use:   "paseto",
	Short: "Sign a v4.public token for --sub with MESSENGER_PASETO_V4_SECRET_KEY_HEX.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := app.LoadConfig()
		if cfg.PasetoSecretKeyHex == "" {
			return errors.New("MESSENGER_PASETO_V4_SECRET_KEY_HEX is not set (see: messenger token paseto-keygen)")
		}
		r, err := identity.NewPasetoResolver(identity.PasetoConfig{
			Issuer:       cfg.PasetoIssuer,
			SecretKeyHex: cfg.PasetoSecretKeyHex,
			TTL:          tokenTTL,
		})
		if err != nil {
			return err
		}
		tok, exp, err := r.Issue(tokenSubject, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		fmt.Fprintln(cmd.ErrOrStderr(), "expires", exp.Format(time.RFC3339))
		return nil
	},
}

var tokenKeygenCmd = &cobra.Command{
	Use:   "paseto-keygen",
	Short: "Print a fresh Ed25519 secret key for MESSENGER_PASETO_V4_SECRET_KEY_HEX.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), identity.NewPasetoSecretKeyHex())
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairID, "id", "", "Repair a single conversation instead of all of them.")
	repairCmd.Flags().IntVar(&repairRate, "rate", 50, "Conversations per second when repairing all (0 = unpaced).")

	for _, c := range []*cobra.Command{tokenJWTCmd, tokenPasetoCmd} {
		c.Flags().StringVar(&tokenSubject, "sub", "", "User id the token is issued for.")
		c.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime.")
		_ = c.MarkFlagRequired("sub")
	}
	tokenCmd.AddCommand(tokenJWTCmd, tokenPasetoCmd, tokenKeygenCmd)
}

