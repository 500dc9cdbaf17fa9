package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check engine health",
		Long:  "Check the health status of a running engine through the admin API",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintln(out, "Engine is healthy")
	} else {
		fmt.Fprintln(out, "Engine is not healthy")
	}
	fmt.Fprintf(out, "Listeners: %d\n", health.Listeners)
	fmt.Fprintf(out, "Subscribers: %d\n", health.Subscribers)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return fmt.Errorf("engine unhealthy: %s", health.Message)
	}
	return nil
}
