package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wapikit/wapikit-sub000/apiclient"
	"github.com/wapikit/wapikit-sub000/schema"
	"pkt.systems/pslog"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var filePath string
	var listIDs []string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import contacts from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(listIDs) == 0 {
				return fmt.Errorf("at least one --list is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := pslog.Ctx(cmd.Context())
			client, err := newAPIClient(cfg, logger)
			if err != nil {
				return err
			}
			file, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer file.Close()

			out := cmd.ErrOrStderr()
			result, err := client.ImportContacts(cmd.Context(), apiclient.ImportRequest{
				ListIDs:  listIDs,
				File:     file,
				FileName: filepath.Base(filePath),
			}, func(record schema.ImportRecord) {
				switch record.Type {
				case schema.RecordImporting:
					_, _ = fmt.Fprintf(out, "%s\n", record.Message)
				case schema.RecordProgress:
					_, _ = fmt.Fprintf(out, "progress %d/%d imported=%d skipped=%d\n", record.Current, record.Total, record.Imported, record.Skipped)
				}
			})
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "contacts CSV file")
	cmd.Flags().StringSliceVarP(&listIDs, "list", "l", nil, "target list id (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
