package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"acsm-bridge/internal/types"

	"github.com/spf13/cobra"
)

var (
	convertURL  string
	convertFile string
	convertName string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a single fulfillment token and print the result",
	Long: `Runs one conversion end to end: ensures the device identity is ready,
invokes the conversion tool, and prints the resulting output references as
JSON. Exactly one of --url or --file must be given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert()
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertURL, "url", "", "URL of the fulfillment token")
	convertCmd.Flags().StringVar(&convertFile, "file", "", "path to a local fulfillment token file")
	convertCmd.Flags().StringVar(&convertName, "name", "", "display name for the output document")
	rootCmd.AddCommand(convertCmd)
}

func runConvert() error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	req := types.ConversionRequest{
		TokenURL: convertURL,
		Filename: convertName,
	}
	if convertFile != "" {
		content, err := os.ReadFile(convertFile)
		if err != nil {
			return fmt.Errorf("failed to read token file: %w", err)
		}
		req.TokenContent = string(content)
		if req.Filename == "" {
			req.Filename = convertFile
		}
	}

	ctx := context.Background()
	bridge, err := buildBridge(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer bridge.Close()

	result := bridge.Orchestrator.Run(ctx, req)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if !result.Succeeded() {
		return fmt.Errorf("conversion failed: %s", result.Failure.Category)
	}
	return nil
}
