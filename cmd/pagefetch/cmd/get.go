package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGetCmd(v *viper.Viper) *cobra.Command {
	var (
		op     string
		path   string
		params []string
	)

	cmd := &cobra.Command{
		Use:     "get",
		Short:   "Fetch a single record and print it as JSON",
		Example: `  pagefetch get --base-url http://localhost:8080 --op MC06GETINFO --param X01=42`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := parseParams(params)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := newSession(ctx, v)
			if err != nil {
				return err
			}
			defer s.Close()

			ctrl, err := s.factory.NewUnpaged(s.callbacks(pagination.FetchConfig{
				Path:          path,
				OperationCode: op,
				Payload:       payload,
			}))
			if err != nil {
				return err
			}
			defer ctrl.Dispose()

			if err := ctrl.GetSingleInfo(); err != nil {
				return err
			}
			data, err := s.await(ctx)
			if err != nil {
				return fmt.Errorf("fetch record: %w", err)
			}

			// A missing record encodes as null.
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "", "backend operation code (required)")
	cmd.Flags().StringVar(&path, "path", pagination.DefaultPath, "resource path")
	cmd.Flags().StringArrayVar(&params, "param", nil, "X1 payload field as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("op")

	return cmd
}
