package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/NodePassProject/nodepass-panel/internal/config"
	"github.com/spf13/cobra"
)

func newEndpointsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoints",
		Aliases: []string{"ep"},
		Short:   "Manage NodePass API endpoints",
		Long:    "List, add, remove and select the NodePass master APIs NodePanel connects to.",
	}

	cmd.AddCommand(
		newEndpointsListCmd(e),
		newEndpointsAddCmd(e),
		newEndpointsRemoveCmd(e),
		newEndpointsUseCmd(e),
	)
	return cmd
}

func newEndpointsListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			active, _ := store.Active()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "\tNAME\tURL\tID\n") //nolint:errcheck
			for _, ep := range store.List() {
				mark := ""
				if ep.ID == active.ID {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, ep.Name, ep.URL, ep.ID) //nolint:errcheck
			}
			return tw.Flush()
		},
	}
}

func newEndpointsAddCmd(e *env) *cobra.Command {
	var (
		token string
		use   bool
	)
	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Add an endpoint",
		Long:  "Adds a NodePass master API. URL is the API root including its prefix, e.g. http://10.0.0.1:9090/api.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			ep, err := store.Set(config.Endpoint{Name: args[0], URL: args[1], Token: token})
			if err != nil {
				return fmt.Errorf("adding endpoint: %w", err)
			}
			if _, ok := store.Active(); use || !ok {
				if err := store.SetActive(ep.ID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", ep.Name, ep.ID) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API key sent as X-API-Key")
	cmd.Flags().BoolVar(&use, "use", false, "make this the active endpoint")
	return cmd
}

func newEndpointsRemoveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME|ID",
		Aliases: []string{"rm"},
		Short:   "Remove an endpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			ep, ok := config.Resolve(store, args[0])
			if !ok {
				return fmt.Errorf("unknown endpoint %q", args[0])
			}
			if err := store.Delete(ep.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", ep.Name) //nolint:errcheck
			return nil
		},
	}
}

func newEndpointsUseCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME|ID",
		Short: "Select the active endpoint",
		Long:  "Selects the active endpoint. A running dashboard picks the change up and switches its event stream.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			ep, ok := config.Resolve(store, args[0])
			if !ok {
				return fmt.Errorf("unknown endpoint %q", args[0])
			}
			if err := store.SetActive(ep.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active endpoint: %s\n", ep.Name) //nolint:errcheck
			return nil
		},
	}
}
