package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"botflow/internal/adapters/repository"
)

func newLeaderCmd(opts *globalOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "leader",
		Short: "Show which instance holds the polling lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			rdb := opts.redisClient()
			defer rdb.Close()

			lease, err := repository.NewRedisLeaseStore(rdb, opts.leaseKey).Read(ctx)
			if err != nil {
				return fmt.Errorf("read lease: %w", err)
			}
			out := cmd.OutOrStdout()
			if lease == nil {
				fmt.Fprintln(out, "no leader")
				return nil
			}
			age := time.Since(lease.LastHeartbeatAt).Truncate(time.Millisecond)
			state := "alive"
			if lease.Expired(time.Now(), ttl) {
				state = "expired"
			}
			fmt.Fprintf(out, "leader\t%s\nheartbeat\t%s (%s ago)\nstate\t%s\n",
				lease.LeaderInstanceID,
				lease.LastHeartbeatAt.Format(time.RFC3339),
				age,
				state,
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Second, "Lease TTL used to judge expiry")
	return cmd
}
