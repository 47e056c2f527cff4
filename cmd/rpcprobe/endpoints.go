package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"resilient-rpc/registry"

	"github.com/spf13/cobra"
)

func newEndpointsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Manage the endpoints registered for a network in etcd",
	}
	cmd.AddCommand(newEndpointsListCommand(a), newEndpointsRegisterCommand(a), newEndpointsDeregisterCommand(a))
	return cmd
}

func (a *app) network() (string, error) {
	network := a.v.GetString("network")
	if network == "" {
		return "", errors.New("--network is required")
	}
	return network, nil
}

func newEndpointsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List endpoints in rank order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			eps, err := reg.Discover(cmd.Context(), network)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tURL\tVERSION")
			for _, ep := range eps {
				fmt.Fprintf(w, "%d\t%s\t%s\n", ep.Priority, ep.URL, ep.Version)
			}
			return w.Flush()
		},
	}
}

func newEndpointsRegisterCommand(a *app) *cobra.Command {
	var (
		priority int
		version  string
		ttl      int64
	)
	cmd := &cobra.Command{
		Use:   "register URL",
		Short: "Add an endpoint; without --ttl it stays until deregistered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			ep := registry.Endpoint{URL: args[0], Priority: priority, Version: version}
			if err := reg.Register(cmd.Context(), network, ep, ttl); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "registered %s for %s\n", ep.URL, network)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "lower ranks first")
	cmd.Flags().StringVar(&version, "version", "", "node version label")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "lease TTL in seconds")
	return cmd
}

func newEndpointsDeregisterCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister URL",
		Short: "Remove an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := a.network()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.Deregister(cmd.Context(), network, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deregistered %s from %s\n", args[0], network)
			return nil
		},
	}
}
