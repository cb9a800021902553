package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmaster/tasklist/cmd/api/commands"
)

// @title Tasklist API
// @version 1.0
// @description Personal task manager with nested sub-tasks and live updates

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	rootCmd := &cobra.Command{
		Use:          "tasklist",
		Short:        "Tasklist personal task manager",
		Long:         `Tasklist keeps one user's tasks and sub-tasks in a local, Redis or Postgres store and serves them over HTTP or from the command line.`,
		SilenceUsage: true,
	}

	// Add commands
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())
	rootCmd.AddCommand(commands.NewSessionCommands()...)
	rootCmd.AddCommand(commands.NewTaskCommand())
	rootCmd.AddCommand(commands.NewSubTaskCommand())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
