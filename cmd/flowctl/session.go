package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset chat sessions",
	}
	cmd.AddCommand(newSessionShowCmd(opts))
	cmd.AddCommand(newSessionClearCmd(opts))
	return cmd
}

func newSessionShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <botId> <chatId>",
		Short: "Print a chat session as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := opts.sessionStore()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			session, err := store.Get(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			if session == nil {
				return fmt.Errorf("no session for bot %s chat %s", args[0], args[1])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(session)
		},
	}
}

func newSessionClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <botId> <chatId>",
		Short: "Delete a chat session so the next message starts fresh",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := opts.sessionStore()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := store.Clear(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s/%s\n", args[0], args[1])
			return nil
		},
	}
}
