package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	registryimpl "github.com/rmacdonaldsmith/eth-engine-go/internal/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

var registryPrefix string

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the Redis event registry",
		Long:  "Map (address, type) pairs to the event and field the engine watches",
	}
	cmd.PersistentFlags().StringVar(&registryPrefix, "prefix", "eth-engine:registry", "Registry key prefix")

	cmd.AddCommand(newRegistrySetCommand())
	cmd.AddCommand(newRegistryGetCommand())
	return cmd
}

func newRegistrySetCommand() *cobra.Command {
	var address, eventType, eventName, eventField string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register an event descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			rdb := newRedisClient()
			defer rdb.Close()

			descriptor := subscription.EventDescriptor{EventName: eventName, EventField: eventField}
			if err := registryimpl.NewRedisRegistry(rdb, registryPrefix).Set(ctx, address, eventType, descriptor); err != nil {
				return fmt.Errorf("failed to register %s: %w", eventType, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s on %s -> %s.%s\n", eventType, address, eventName, eventField)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Contract address (required)")
	cmd.Flags().StringVar(&eventType, "type", "", "Subscription type (required)")
	cmd.Flags().StringVar(&eventName, "event", "", "ABI event name (required)")
	cmd.Flags().StringVar(&eventField, "field", "", "Decoded event field compared to the trigger (required)")
	for _, name := range []string{"address", "type", "event", "field"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}
	return cmd
}

func newRegistryGetCommand() *cobra.Command {
	var address, eventType string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Look up an event descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			rdb := newRedisClient()
			defer rdb.Close()

			descriptor, err := registryimpl.NewRedisRegistry(rdb, registryPrefix).Get(ctx, address, eventType)
			if errors.Is(err, registry.ErrNotFound) {
				return fmt.Errorf("%s is not registered on %s", eventType, address)
			}
			if err != nil {
				return fmt.Errorf("failed to look up %s: %w", eventType, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\n", descriptor.EventName, descriptor.EventField)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Contract address (required)")
	cmd.Flags().StringVar(&eventType, "type", "", "Subscription type (required)")
	for _, name := range []string{"address", "type"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}
	return cmd
}
