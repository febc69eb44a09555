package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"botflow/internal/adapters/backend"
	"botflow/internal/adapters/repository"
	"botflow/internal/core/ports"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	redisAddr      string
	redisPassword  string
	redisDB        int
	backendURL     string
	backendToken   string
	sessionBackend string
	leaseKey       string
	timeout        time.Duration
}

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Operator CLI for the botflow engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Same .env the server reads; flags default to its values
	_ = godotenv.Load()

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address (host:port)")
	flags.StringVar(&opts.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	flags.IntVar(&opts.redisDB, "redis-db", 0, "Redis database index")
	flags.StringVar(&opts.backendURL, "backend-url", os.Getenv("BACKEND_URL"), "Record store base URL")
	flags.StringVar(&opts.backendToken, "backend-token", os.Getenv("BACKEND_TOKEN"), "Record store bearer token")
	flags.StringVar(&opts.sessionBackend, "session-backend", envOr("SESSION_BACKEND", "redis"), "Where sessions live: redis or backend")
	flags.StringVar(&opts.leaseKey, "lease-key", repository.DefaultLeaseKey, "Redis key of the polling lease")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per command timeout")

	cmd.AddCommand(newLeaderCmd(opts))
	cmd.AddCommand(newSessionCmd(opts))
	cmd.AddCommand(newScenarioCmd())

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *globalOptions) redisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.redisAddr,
		Password: o.redisPassword,
		DB:       o.redisDB,
	})
}

// sessionStore returns the configured store and a cleanup func
func (o *globalOptions) sessionStore() (ports.SessionStore, func(), error) {
	switch o.sessionBackend {
	case "redis":
		rdb := o.redisClient()
		return repository.NewRedisSessionStore(rdb), func() { _ = rdb.Close() }, nil
	case "backend":
		if o.backendURL == "" {
			return nil, nil, fmt.Errorf("--backend-url (or BACKEND_URL) is required for the backend session store")
		}
		client := backend.NewClient(o.backendURL, o.backendToken, o.timeout)
		return client.Sessions(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown session backend %q", o.sessionBackend)
}
