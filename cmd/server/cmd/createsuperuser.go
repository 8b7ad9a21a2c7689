package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/spf13/cobra"
)

var (
	superuserUsername string
	superuserEmail    string
	superuserPassword string
)

var createSuperuserCmd = &cobra.Command{
	Use:   "createsuperuser",
	Short: "Create a staff account",
	Long: `Create a staff account that can use the admin endpoints.

The password is read from --password, then SUPERUSER_PASSWORD, then the
first line of standard input.

Examples:
  server createsuperuser --username admin --email admin@example.com
  echo "$PASSWORD" | server createsuperuser --username admin --email admin@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := superuserPasswordInput(cmd.InOrStdin())
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		ctx := context.Background()
		pool, repo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		service := users.NewService(repo.Users(), nil, audit.NewLogger(os.Stdout), logger)
		user, err := service.CreateSuperuser(ctx, users.SignUpInput{
			Username: superuserUsername,
			Email:    superuserEmail,
			Password: password,
		})
		if err != nil {
			return describeUserError(err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Superuser %s created (id %s)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	createSuperuserCmd.Flags().StringVar(&superuserUsername, "username", "", "username (required)")
	createSuperuserCmd.Flags().StringVar(&superuserEmail, "email", "", "email address (required)")
	createSuperuserCmd.Flags().StringVar(&superuserPassword, "password", "", "password (prefer SUPERUSER_PASSWORD or stdin)")
	_ = createSuperuserCmd.MarkFlagRequired("username")
	_ = createSuperuserCmd.MarkFlagRequired("email")
}

func superuserPasswordInput(stdin io.Reader) (string, error) {
	if superuserPassword != "" {
		return superuserPassword, nil
	}
	if env := os.Getenv("SUPERUSER_PASSWORD"); env != "" {
		return env, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return password, nil
}

// describeUserError flattens validation failures into one readable line.
func describeUserError(err error) error {
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return fmt.Errorf("invalid superuser: %s", strings.Join(parts, "; "))
	}
	return fmt.Errorf("create superuser: %w", err)
}
