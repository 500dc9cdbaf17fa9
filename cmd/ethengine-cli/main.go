package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/commandclient"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

var (
	// Admin API flags
	serverURL string
	token     string
	timeout   time.Duration

	// Redis flags
	redisAddr      string
	redisPassword  string
	redisDB        int
	subChannel     string
	unsubChannel   string
	responsePrefix string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ethengine-cli",
		Short: "ethengine command line interface",
		Long: `ethengine-cli sends subscribe and unsubscribe commands to a running
engine over Redis, manages the event registry, and queries the admin API.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", "http://localhost:8080", "Admin API URL")
	flags.StringVar(&token, "token", os.Getenv("ETH_ENGINE_TOKEN"), "Admin JWT token")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	flags.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	flags.StringVar(&redisPassword, "redis-password", "", "Redis password")
	flags.IntVar(&redisDB, "redis-db", 0, "Redis database")
	flags.StringVar(&subChannel, "sub-channel", subscription.DefaultSubscribeChannel, "Subscribe command channel")
	flags.StringVar(&unsubChannel, "unsub-channel", subscription.DefaultUnsubscribeChannel, "Unsubscribe command channel")
	flags.StringVar(&responsePrefix, "response-prefix", "", "Prefix of the failure response channel")

	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newUnsubscribeCommand())
	rootCmd.AddCommand(newRegistryCommand())
	rootCmd.AddCommand(newSubscriptionsCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

// newRedisClient connects to the Redis server named by the global flags
func newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})
}

func newCommandClient(rdb redis.UniversalClient) *commandclient.Client {
	return commandclient.New(rdb, commandclient.Config{
		SubscribeChannel:   subChannel,
		UnsubscribeChannel: unsubChannel,
		ResponsePrefix:     responsePrefix,
	})
}

// newAdminClient builds the admin API client from the global flags
func newAdminClient(requireToken bool) (*httpclient.Client, error) {
	if requireToken && token == "" {
		return nil, fmt.Errorf("not authenticated - run 'ethengine-cli token' or provide --token")
	}
	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		Token:     token,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}
