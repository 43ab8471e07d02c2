package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ejazhussain/espc2025-sub000/security"
)

func init() {
	RootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("agent", "", "agent user ID to mint a console token for")
	tokenCmd.Flags().Duration("lifetime", 24*time.Hour, "token lifetime")
}

// tokenCmd mints an agent console token locally, useful for testing the
// protected API without going through /auth/token.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "mint an agent console token",
	Long:  `mint a signed agent token using the configured JWT secret and print it to stdout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		lifetime, _ := cmd.Flags().GetDuration("lifetime")

		if agent == "" {
			return fmt.Errorf("--agent is required")
		}

		secret := viper.GetString("security.jwt_secret")
		if secret == "" {
			return fmt.Errorf("security.jwt_secret is not configured")
		}

		token, err := security.NewJWTService(secret).GenerateToken(agent, lifetime)
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}
