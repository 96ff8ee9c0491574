package cmd

import (
	"fmt"

	"github.com/faithlink/presence-service/internal/database"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command [name]",
	Short: "Run one-time command (migrate, migrate-create)",
	RunE:  runCommand,
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("available: migrate, migrate-create")
		return nil
	}
	switch args[0] {
	case "migrate":
		return runMigrateUp(cmd, nil)
	case "migrate-create":
		name := ""
		if len(args) > 1 {
			name = args[1]
		} else {
			fmt.Print("Enter migration name: ")
			_, _ = fmt.Scanln(&name)
		}
		if name == "" {
			return fmt.Errorf("migration name required")
		}
		return database.CreateMigration(name)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}
