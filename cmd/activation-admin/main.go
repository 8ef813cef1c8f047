// Command activation-admin lets operators review doctor activation
// requests from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/healthapp/go-auth/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd(ctx, a, os.Stdout, os.Getenv(adminTokenEnv), args)
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: activation-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  pending                        List doctors awaiting activation")
	fmt.Println("  count                          Number of doctors awaiting activation")
	fmt.Println("  approve <doctor-id> [notes]    Approve a doctor")
	fmt.Println("  reject <doctor-id> [notes]     Reject a doctor")
	fmt.Println("  status <doctor-id>             Show a doctor's activation status")
	fmt.Println("  processed [admin-id]           Requests resolved by an admin (default: you)")
	fmt.Println("  reconcile                      Resolve requests left pending for activated doctors")
	fmt.Println("  create-admin <email> <pass>    Create an admin account")
	fmt.Println("  register-doctor [flags]        Register a doctor account")
	fmt.Println("  login <email> <password>       Issue tokens for an account")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  " + adminTokenEnv + "         Admin access token, required by review commands")
	fmt.Println("  STORE_BACKEND                  sql (default), mongo or memory")
	fmt.Println("  DB_DRIVER, DB_DSN              SQL connection (sqlite or postgres)")
	fmt.Println("  KAFKA_BROKERS                  Publish notifications and activity when set")
	fmt.Println("  REDIS_ADDR                     Share token revocations when set")
	fmt.Println()
}
