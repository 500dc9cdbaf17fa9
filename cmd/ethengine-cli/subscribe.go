package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// requestFlags are shared by subscribe and unsubscribe
type requestFlags struct {
	address   string
	abi       []string
	abiFile   string
	eventType string
	trigger   string
	label     string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "Contract address (required)")
	cmd.Flags().StringArrayVar(&f.abi, "abi", nil, "ABI fragment, repeatable")
	cmd.Flags().StringVar(&f.abiFile, "abi-file", "", "JSON file holding an array of ABI fragments")
	cmd.Flags().StringVar(&f.eventType, "type", "", "Subscription type registered in the event registry (required)")
	cmd.Flags().StringVar(&f.trigger, "trigger", "", "Trigger value (required)")
	cmd.Flags().StringVar(&f.label, "label", "", "Label carried into notifications")

	for _, name := range []string{"address", "type", "trigger"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}
}

// request builds the command, reading --abi-file when given
func (f *requestFlags) request() (subscription.Request, error) {
	fragments := append([]string(nil), f.abi...)
	if f.abiFile != "" {
		data, err := os.ReadFile(f.abiFile)
		if err != nil {
			return subscription.Request{}, fmt.Errorf("failed to read ABI file: %w", err)
		}
		var fromFile []string
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return subscription.Request{}, fmt.Errorf("ABI file must hold a JSON array of fragments: %w", err)
		}
		fragments = append(fragments, fromFile...)
	}

	req := subscription.Request{
		Address:      f.address,
		ABI:          fragments,
		Type:         f.eventType,
		TriggerValue: json.Number(f.trigger),
		Label:        f.label,
	}
	if err := req.Validate(); err != nil {
		return subscription.Request{}, err
	}
	return req, nil
}

func newSubscribeCommand() *cobra.Command {
	var (
		flags requestFlags
		wait  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Ask the engine to watch a contract event",
		Long: `Publish a subscribe command. The engine only answers on failure, so
--wait listens on the request's response channel for that long and reports
silence as success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			return runSubscribe(cmd, req, wait)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "How long to wait for a failure response (0 to not wait)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, req subscription.Request, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rdb := newRedisClient()
	defer rdb.Close()
	client := newCommandClient(rdb)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Subscribing to %s on %s (trigger %s)...\n", req.Type, req.Address, req.TriggerValue)

	if wait <= 0 {
		if err := client.Subscribe(ctx, req); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		fmt.Fprintln(out, "Command published")
		return nil
	}

	resp, err := client.SubscribeAndWait(ctx, req, wait)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if resp != nil && resp.Error {
		return fmt.Errorf("engine rejected subscription: %s", resp.Reason)
	}
	fmt.Fprintln(out, "Subscribed")
	fmt.Fprintf(out, "Response channel: %s\n", subscription.ResponseChannel(responsePrefix, req))
	return nil
}

func newUnsubscribeCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Remove a subscription",
		Long: `Publish an unsubscribe command. The request must match the original
subscription's address, ABI, type and trigger value. The engine never answers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			return runUnsubscribe(cmd, req)
		},
	}

	flags.register(cmd)
	return cmd
}

func runUnsubscribe(cmd *cobra.Command, req subscription.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rdb := newRedisClient()
	defer rdb.Close()

	if err := newCommandClient(rdb).Unsubscribe(ctx, req); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Unsubscribe command published")
	return nil
}
