package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	var (
		op       string
		path     string
		pageSize int
		pages    int
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch list pages and print each record as a JSON line",
		Example: `  pagefetch list --base-url http://localhost:8080 --op MC06GETLIST --pages 3
  pagefetch list --op MC06GETORDERS --path orders --param X01=10086`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pages < 1 {
				return fmt.Errorf("--pages must be at least 1 (got %d)", pages)
			}
			if pageSize < 0 {
				return fmt.Errorf("--page-size must not be negative (got %d)", pageSize)
			}
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

			ctrl, err := s.factory.NewPaged(s.callbacks(pagination.FetchConfig{
				Path:          path,
				OperationCode: op,
				PageSize:      pageSize,
				Payload:       payload,
			}))
			if err != nil {
				return err
			}
			defer ctrl.Dispose()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for page := 1; page <= pages; page++ {
				trigger := ctrl.NextPage
				if page == 1 {
					trigger = ctrl.FirstPage
				} else if !ctrl.HasMoreData() {
					break
				}

				if err := trigger(); err != nil {
					return err
				}
				data, err := s.await(ctx)
				if err != nil {
					return fmt.Errorf("fetch page %d: %w", page, err)
				}

				items, _ := data.([]any)
				for _, item := range items {
					if err := enc.Encode(item); err != nil {
						return fmt.Errorf("write output: %w", err)
					}
				}
				s.logger.Debug().
					Int("page", page).
					Int("items", len(items)).
					Int("cursor", ctrl.State().Cursor).
					Bool("has_more", ctrl.HasMoreData()).
					Msg("Page fetched")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "", "backend operation code (required)")
	cmd.Flags().StringVar(&path, "path", pagination.DefaultPath, "resource path")
	cmd.Flags().IntVar(&pageSize, "page-size", pagination.DefaultPageSize, "records per page")
	cmd.Flags().IntVar(&pages, "pages", 1, "maximum number of pages to fetch")
	cmd.Flags().StringArrayVar(&params, "param", nil, "X1 payload field as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("op")

	return cmd
}
