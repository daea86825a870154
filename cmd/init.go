package cmd

import (
	"fmt"
	"log"
	"syscall"

	"github.com/castellanbot/castellan/castellan"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and generate an admin password hash",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("CSTL_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"CSTL_DATABASE not set (must be a valid database connection " +
					"string or sqlite file path)",
			)
		}
		// Run database migrations
		if _, err := castellan.CreateDB(
			ctx, cfg.DatabaseType, cfg.Database,
		); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var password string
		for {
			fmt.Fprint(out, "Enter admin password: ")
			passwordBytes, _ := customPasswordReader()
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin password: ")
			confirmPasswordBytes, _ := customPasswordReader()
			confirmPassword := string(confirmPasswordBytes)
			fmt.Fprintln(out)

			if password == confirmPassword {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}

		hashedPassword, err := castellan.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}

		fmt.Fprintln(out, "Set the following environment variable to enable the review API:")
		fmt.Fprintf(out, "CSTL_API_ADMIN_PASSWORD_HASH=%s\n", hashedPassword)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
