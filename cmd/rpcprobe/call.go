package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call METHOD [PARAM_JSON...]",
		Short: "Call a JSON-RPC method and print its raw result",
		Long: "Each PARAM_JSON is one positional parameter. Values that are not valid JSON are sent as strings.\n" +
			"Prints \"unsupported\" when the node does not know the method.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.newClient(ctx)
			if err != nil {
				return err
			}

			res, err := c.Call(ctx, args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			if res.Unsupported {
				fmt.Fprintln(a.out, "unsupported")
				return nil
			}
			fmt.Fprintln(a.out, string(res.Raw))
			return nil
		},
	}
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			params = append(params, json.RawMessage(arg))
			continue
		}
		params = append(params, arg)
	}
	return params
}
