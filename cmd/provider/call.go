package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [json-param...]",
		Short: "Dispatch a single request through the provider and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				var v any
				if err := json.Unmarshal([]byte(arg), &v); err != nil {
					// bare words are passed as strings
					v = arg
				}
				params = append(params, v)
			}

			a, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.provider.Request(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
