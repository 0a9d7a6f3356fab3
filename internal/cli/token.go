package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iudanet/tripsync/internal/server/handlers"
	"github.com/iudanet/tripsync/internal/validation"
)

// NewTokenCommand creates the token command. Сервер не выпускает токены
// через API, команда нужна для разработки и интеграционных проверок.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				if secret, err = promptSecret(cmd); err != nil {
					return err
				}
			}
			if err := validation.ValidateIdentifier("user", userID); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
				Secret:         []byte(secret),
				AccessTokenTTL: ttl,
			}, userID, userID)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id placed into the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// promptSecret читает секрет с терминала без эха. Без терминала
// секрет должен прийти из конфигурации
func promptSecret(cmd *cobra.Command) (string, error) {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(in.Fd())) {
		return "", errors.New("auth.jwt_secret is required")
	}
	fd := int(in.Fd())

	fmt.Fprint(cmd.ErrOrStderr(), "JWT secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", errors.New("auth.jwt_secret is required")
	}
	return secret, nil
}
