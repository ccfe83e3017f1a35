package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/clinigraph/internal/generator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := generator.DefaultConfig()
	var (
		outputDir   string
		writeStdout bool
	)

	cmd := &cobra.Command{
		Use:          "datagen",
		Short:        "Generate synthetic clinical encounter and patient-history datasets",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.MissingProviderChance = clampProbability(cfg.MissingProviderChance)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dataset, err := generator.New(cfg).Generate(ctx)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if writeStdout {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(dataset); err != nil {
					return fmt.Errorf("write dataset to stdout: %w", err)
				}
				return nil
			}

			if err := generator.WriteDataset(dataset, outputDir); err != nil {
				return fmt.Errorf("write dataset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d encounters and %d patient histories into %s\n",
				len(dataset.Encounters), len(dataset.Histories), outputDir)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.NumEncounters, "encounters", cfg.NumEncounters, "number of encounters to generate")
	flags.IntVar(&cfg.NumPatients, "patients", cfg.NumPatients, "size of the shared patient pool")
	flags.IntVar(&cfg.NumProviders, "providers", cfg.NumProviders, "size of the shared provider pool")
	flags.IntVar(&cfg.MaxDiagnoses, "max-diagnoses", cfg.MaxDiagnoses, "maximum diagnoses per encounter")
	flags.IntVar(&cfg.MaxTests, "max-tests", cfg.MaxTests, "maximum tests per encounter")
	flags.IntVar(&cfg.MaxTreatments, "max-treatments", cfg.MaxTreatments, "maximum treatments per encounter")
	flags.IntVar(&cfg.NumHistories, "histories", cfg.NumHistories, "number of patient-history records to generate")
	flags.IntVar(&cfg.MaxHistoryEncounters, "max-history-encounters", cfg.MaxHistoryEncounters, "maximum encounters per patient history")
	flags.Float64Var(&cfg.MissingProviderChance, "invalid-chance", 0, "probability of blanking a provider id to produce invalid records")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for deterministic generation")
	flags.StringVar(&outputDir, "output-dir", "data", "directory to write encounters.json and patients.json")
	flags.BoolVar(&writeStdout, "stdout", false, "write combined dataset to stdout instead of files")

	return cmd
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
