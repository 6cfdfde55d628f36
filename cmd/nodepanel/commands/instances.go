package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/spf13/cobra"
)

const requestTimeout = 15 * time.Second

func newInstancesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"inst"},
		Short:   "Manage tunnel instances on an endpoint",
	}

	cmd.AddCommand(
		newInstancesListCmd(e),
		newInstancesCreateCmd(e),
		newInstancesDeleteCmd(e),
	)
	for _, action := range []client.Action{client.ActionStart, client.ActionStop, client.ActionRestart} {
		cmd.AddCommand(newInstancesActionCmd(e, action))
	}
	return cmd
}

// apiClient builds a REST client for the selected endpoint.
func (e *env) apiClient() (*client.Client, error) {
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	ep, err := e.endpoint(store)
	if err != nil {
		return nil, err
	}
	return client.New(ep.URL, ep.Token), nil
}

func newInstancesListCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := e.apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			list, err := api.ListInstances(ctx)
			if err != nil {
				return fmt.Errorf("listing instances: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tTYPE\tSTATUS\tTCP RX/TX\tUDP RX/TX\tURL\n") //nolint:errcheck
			for _, inst := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s / %s\t%s / %s\t%s\n", //nolint:errcheck
					inst.ID, inst.Type, inst.Status,
					client.FormatBytes(inst.TCPRX), client.FormatBytes(inst.TCPTX),
					client.FormatBytes(inst.UDPRX), client.FormatBytes(inst.UDPTX),
					inst.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newInstancesCreateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "create URL",
		Short: "Create an instance from a tunnel URL",
		Long:  "Creates an instance, e.g. server://:10101/127.0.0.1:8080 or client://host:10101/127.0.0.1:3000.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := e.apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			inst, err := api.CreateInstance(ctx, args[0])
			if err != nil {
				return fmt.Errorf("creating instance: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s, %s)\n", inst.ID, inst.Type, inst.Status) //nolint:errcheck
			return nil
		},
	}
}

func newInstancesActionCmd(e *env, action client.Action) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " ID",
		Short: fmt.Sprintf("%s an instance", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := e.apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			inst, err := api.ControlInstance(ctx, args[0], action)
			if err != nil {
				return fmt.Errorf("%s %s: %w", action, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", inst.ID, inst.Status) //nolint:errcheck
			return nil
		},
	}
}

func newInstancesDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete an instance",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := e.apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := api.DeleteInstance(ctx, args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0]) //nolint:errcheck
			return nil
		},
	}
}
