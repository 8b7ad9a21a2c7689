package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var apiKeyUser string

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage API keys",
	Long: `Manage a user's API keys.

API keys authenticate requests to the JSON API with the header
"Authorization: Token <key>". A key acts as the user who owns it.

Examples:
  # Create a new API key for alice
  server api-key create --user alice "CI pipeline"

  # List alice's keys
  server api-key list --user alice

  # Revoke one of alice's keys
  server api-key revoke --user alice <id>`,
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new API key",
	Long: `Create a new API key for a user.

The key is displayed once and cannot be retrieved later. When no name is
given the key is named after its creation time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withDevelopers(func(ctx context.Context, service *developers.Service, userID string) error {
			raw, key, err := service.CreateAPIKey(ctx, userID, name)
			if err != nil {
				return err
			}
			printCreatedKey(cmd.OutOrStdout(), raw, key)
			return nil
		})
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's API keys",
	Long: `List a user's API keys, newest first.

The key values are not shown; only their prefixes are stored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevelopers(func(ctx context.Context, service *developers.Service, userID string) error {
			keys, err := service.ListAPIKeys(ctx, userID)
			if err != nil {
				return err
			}
			return printKeys(cmd.OutOrStdout(), keys)
		})
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Long: `Delete one of the user's API keys. Requests using it fail immediately.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevelopers(func(ctx context.Context, service *developers.Service, userID string) error {
			if err := service.DeleteAPIKey(ctx, userID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked\n", args[0])
			return nil
		})
	},
}

func init() {
	apiKeyCmd.AddCommand(apiKeyCreateCmd)
	apiKeyCmd.AddCommand(apiKeyListCmd)
	apiKeyCmd.AddCommand(apiKeyRevokeCmd)

	apiKeyCmd.PersistentFlags().StringVar(&apiKeyUser, "user", "", "username or email of the key owner (required)")
	_ = apiKeyCmd.MarkPersistentFlagRequired("user")
}

// withDevelopers resolves --user and runs fn against a developers service
// backed by the configured database.
func withDevelopers(fn func(ctx context.Context, service *developers.Service, userID string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	userID, err := lookupUserID(ctx, repo)
	if err != nil {
		return err
	}
	service := developers.NewService(repo.Developers(), nil, audit.NewLogger(os.Stdout), cfg.Auth.APIKeyTTL, logger)
	return fn(ctx, service, userID)
}

func lookupUserID(ctx context.Context, repo *postgres.Repository) (string, error) {
	user, err := repo.Users().GetByLogin(ctx, apiKeyUser)
	if err != nil {
		return "", fmt.Errorf("find user %q: %w", apiKeyUser, err)
	}
	return user.ID, nil
}

func printCreatedKey(out io.Writer, raw string, key *developers.APIKey) {
	fmt.Fprintf(out, "API key created\n\n")
	fmt.Fprintf(out, "ID:      %s\n", key.ID)
	fmt.Fprintf(out, "Name:    %s\n", key.Name)
	if key.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires: %s\n", key.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Key:     %s\n\n", raw)
	fmt.Fprintf(out, "Save this key now. It cannot be shown again.\n\n")
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  curl -H \"Authorization: Token %s\" http://localhost:8080/api/events\n", raw)
}

func printKeys(out io.Writer, keys []developers.APIKey) error {
	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tCREATED\tEXPIRES\tLAST USED")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.Prefix, k.CreatedAt.UTC().Format("2006-01-02 15:04"),
			formatOptionalTime(k.ExpiresAt, "never"), formatOptionalTime(k.LastUsedAt, "never"))
	}
	return w.Flush()
}

func formatOptionalTime(t *time.Time, empty string) string {
	if t == nil {
		return empty
	}
	return t.UTC().Format("2006-01-02 15:04")
}
