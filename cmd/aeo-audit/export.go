package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"aeo-audit/pkg/export"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export <audit-id>",
	Short: "Write an audit's pages, passages and summary to disk",
	Long: `Export an audit into a directory as pages.jsonl (one line per analyzed page),
passages.jsonl (retrieval-sized passages of each page) and audit.yaml (summary and scores).`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "out", "", "Output directory (default: ./exports/<audit-id>)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(cfg.Server.ShutdownTimeout)

	dir := exportDir
	if dir == "" {
		dir = filepath.Join("exports", args[0])
	}
	res, err := export.NewExporter(a.coord, a.log).Export(cmd.Context(), args[0], dir)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(res)
}
