package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var adminEmail string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Create or promote an admin account",
	Long:  `Reads the password from ADMIN_PASSWORD. An existing account is promoted and its password replaced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("ADMIN_PASSWORD")
		if strings.TrimSpace(adminEmail) == "" || len(password) < 8 {
			return errors.New("--email and an ADMIN_PASSWORD of at least 8 characters are required")
		}
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.Auth.EnsureAdmin(ctx, adminEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Admin %s (%s) ready\n", user.Email, user.ID)
		return nil
	},
}

func init() {
	adminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
}
