package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qqrelay/internal/config"
	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

func bindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Manage button bindings",
	}
	cmd.AddCommand(bindingsListCmd())
	cmd.AddCommand(bindingsSetCmd())
	cmd.AddCommand(bindingsDeleteCmd())
	return cmd
}

func withBindingStore(fn func(ctx context.Context, s store.BindingStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := openBindingStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func bindingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindingStore(func(ctx context.Context, s store.BindingStore) error {
				list, err := s.List(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No bindings.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tBUTTON\tPAYLOAD\tBOUND ID\tUPDATED")
				for _, b := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ConversationKey, b.ActionID, b.ActionPayload, b.BoundID, b.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func bindingsSetCmd() *cobra.Command {
	var payload, boundID string
	cmd := &cobra.Command{
		Use:   "set <conversation-key> <button-id>",
		Short: "Create or replace the binding for a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := host.CanonicalKey(args[0])
			if err != nil {
				return err
			}
			b := store.ButtonBinding{
				ConversationKey: key,
				ActionID:        args[1],
				ActionPayload:   payload,
				BoundID:         boundID,
				UpdatedAt:       time.Now().UTC(),
			}
			return withBindingStore(func(ctx context.Context, s store.BindingStore) error {
				if err := s.Put(ctx, b); err != nil {
					return err
				}
				fmt.Printf("Binding for %s saved.\n", b.ConversationKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "button callback data")
	cmd.Flags().StringVar(&boundID, "bound-id", "", "official bot openid of the conversation, if known")
	return cmd
}

func bindingsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-key>",
		Short: "Delete the binding for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := host.CanonicalKey(args[0])
			if err != nil {
				return err
			}
			return withBindingStore(func(ctx context.Context, s store.BindingStore) error {
				if err := s.Delete(ctx, key); err != nil {
					return err
				}
				fmt.Printf("Binding for %s deleted.\n", key)
				return nil
			})
		},
	}
}
