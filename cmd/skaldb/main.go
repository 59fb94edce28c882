// Package main provides the SkaldDB CLI entry point.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/skaldb/pkg/catalog"
	"github.com/orneryd/skaldb/pkg/config"
	"github.com/orneryd/skaldb/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skaldb",
		Short: "SkaldDB - Embedded Graph Storage Engine",
		Long: `SkaldDB is an embedded labeled-property-graph store written in Go.

Features:
  • Append-only node and edge tables with stable integer ids
  • Label and adjacency secondary indexes
  • Write-ahead log with checkpoint recovery
  • Segment snapshots per database branch
  • Optional BadgerDB-backed persistent engine`,
	}
	rootCmd.PersistentFlags().String("config", "skaldb.yaml", "Config file path")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SkaldDB v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory and default config",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show node and edge counts for every database branch",
		RunE:  runInspect,
	}
	rootCmd.AddCommand(inspectCmd)

	// Checkpoint command
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Flush the configured branch to segments and mark the WAL",
		RunE:  runCheckpoint,
	}
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	cfg.DataDir = dataDir

	if _, err := catalog.EnsureBranchDir(cfg.DataDir, cfg.Database, cfg.Branch); err != nil {
		return err
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.WriteFile(configPath); err != nil {
			return err
		}
		log.Printf("Wrote %s", configPath)
	}

	log.Printf("Initialized %s", filepath.Join(cfg.DataDir, cfg.Database))
	fmt.Printf("✓ SkaldDB initialized at %s (database %q, branch %q)\n",
		cfg.DataDir, cfg.Database, cfg.Branch)
	return nil
}

type branchStats struct {
	database string
	branch   string
	nodes    int64
	edges    int64
	walSeq   uint64
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	databases, err := catalog.ListDatabases(cfg.DataDir)
	if err != nil {
		return err
	}
	if len(databases) == 0 {
		fmt.Println("No databases found. Run `skaldb init` first.")
		return nil
	}

	var (
		mu    sync.Mutex
		stats []branchStats
	)
	g := new(errgroup.Group)
	g.SetLimit(4)

	for _, db := range databases {
		branches, err := catalog.ListBranches(cfg.DataDir, db)
		if err != nil {
			return err
		}
		for _, branch := range branches {
			db, branch := db, branch
			g.Go(func() error {
				engine, err := storage.OpenDurable(cfg.DataDir, db, branch, &storage.WALConfig{
					SyncMode: storage.SyncNone,
				})
				if err != nil {
					return fmt.Errorf("open %s/%s: %w", db, branch, err)
				}
				defer engine.Close()

				s := branchStats{
					database: db,
					branch:   branch,
					nodes:    engine.Store().NodeCount(),
					edges:    engine.Store().EdgeCount(),
					walSeq:   engine.WAL().Sequence(),
				}
				mu.Lock()
				stats = append(stats, s)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].database != stats[j].database {
			return stats[i].database < stats[j].database
		}
		return stats[i].branch < stats[j].branch
	})

	fmt.Printf("%-20s %-12s %10s %10s %10s\n", "DATABASE", "BRANCH", "NODES", "EDGES", "WAL SEQ")
	for _, s := range stats {
		fmt.Printf("%-20s %-12s %10d %10d %10d\n", s.database, s.branch, s.nodes, s.edges, s.walSeq)
	}
	return nil
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	engine, err := storage.OpenDurable(cfg.DataDir, cfg.Database, cfg.Branch, &storage.WALConfig{
		SyncMode:          cfg.WAL.SyncMode,
		BatchSyncInterval: cfg.WAL.BatchSyncInterval,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Checkpoint(); err != nil {
		return err
	}

	log.Printf("Checkpointed %s/%s (%d nodes, %d edges)",
		cfg.Database, cfg.Branch, engine.Store().NodeCount(), engine.Store().EdgeCount())
	fmt.Printf("✓ Checkpoint written for %s/%s\n", cfg.Database, cfg.Branch)
	return nil
}
