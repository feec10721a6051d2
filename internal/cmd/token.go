package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/observability"
)

var (
	tokenTenant   string
	tokenRoles    []string
	tokenLifetime time.Duration
	tokenKeyPath  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Mint a signed development bearer token for local testing.

The token is signed with the RSA private key matching the public key the
server verifies against. Production tokens come from the identity provider;
this command exists so a local gateway can be exercised end to end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenKeyPath == "" {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Private key path is required (--key)", nil)
		}

		privateKeyPEM, err := os.ReadFile(tokenKeyPath)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Failed to read private key", err)
		}

		issuer := viper.GetString("auth.issuer")

		token, err := auth.Mint(privateKeyPEM, auth.MintOptions{
			TenantID: tokenTenant,
			Roles:    tokenRoles,
			Issuer:   issuer,
			Lifetime: tokenLifetime,
		})
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to mint token", err)
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id to embed in the token (required)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{"standard"}, "roles to embed (standard, premium, admin)")
	tokenCmd.Flags().DurationVar(&tokenLifetime, "lifetime", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenKeyPath, "key", "", "path to the PEM-encoded RSA private key")

	_ = tokenCmd.MarkFlagRequired("tenant")
	_ = tokenCmd.MarkFlagRequired("key")
}
