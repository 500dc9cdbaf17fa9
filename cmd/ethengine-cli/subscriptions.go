package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubscriptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "List live subscriptions (requires admin privileges)",
		Long:  "List every live subscriber in subscribe order, as reported by the admin API",
		RunE:  runSubscriptions,
	}
}

func runSubscriptions(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.AdminListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(response.Subscriptions) == 0 {
		fmt.Fprintln(out, "No live subscriptions")
		return nil
	}

	fmt.Fprintf(out, "Found %d subscription(s) on %d listener(s):\n\n", len(response.Subscriptions), response.Listeners)
	for i, sub := range response.Subscriptions {
		fmt.Fprintf(out, "%d. %s %s\n", i+1, sub.Address, sub.Type)
	}
	return nil
}
