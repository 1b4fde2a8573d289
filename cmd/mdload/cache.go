package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/mdload/internal/cache"
	"github.com/spherical/mdload/internal/config"
	"github.com/spherical/mdload/internal/digest"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/tiering"
)

// newCacheCmd creates the cache command group.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the conversion cache",
	}
	cmd.AddCommand(newCacheKeyCmd())
	cmd.AddCommand(newCachePurgeCmd())
	return cmd
}

// tierKey is the cache key one tier would use for a unit.
type tierKey struct {
	Tier     string                   `json:"tier"`
	Unit     string                   `json:"unit"`
	Key      string                   `json:"key"`
	Identity domain.ConverterIdentity `json:"identity"`
}

func newCacheKeyCmd() *cobra.Command {
	var (
		page int
		tier string
	)

	cmd := &cobra.Command{
		Use:   "key <file>",
		Short: "Print the cache keys of a document unit for each tier",
		Long: `Key derives cache keys from the document content and the configured
tiers, without converting anything. Use --page for a page unit; without it
the whole-document unit is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var index *int
			if cmd.Flags().Changed("page") {
				index = domain.PageIndex(page)
			}

			keys, err := cacheKeys(cfg, args[0], index, tier)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(keys)
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-7s %s  %s\n", k.Tier, k.Unit, k.Key, k.Identity)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 0, "0-based page index")
	cmd.Flags().StringVarP(&tier, "tier", "t", "", "only this tier (default: all tiers)")

	return cmd
}

func cacheKeys(cfg *config.Config, path string, index *int, only string) ([]tierKey, error) {
	if index != nil && *index < 0 {
		return nil, domain.ValidationError(fmt.Sprintf("page index must not be negative, got %d", *index), nil)
	}

	hash, err := digest.File(path)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("hash %s", path), err)
	}

	var keys []tierKey
	for _, tc := range cfg.Tiers {
		if only != "" && tc.Name != only {
			continue
		}
		id, err := tiering.Identity(tc)
		if err != nil {
			return nil, err
		}
		keys = append(keys, tierKey{
			Tier:     tc.Name,
			Unit:     cache.UnitID(index),
			Key:      cache.Key(hash, index, id),
			Identity: id,
		})
	}

	if len(keys) == 0 {
		return nil, domain.ConfigError(fmt.Sprintf("no tier named %q", only), nil)
	}
	return keys, nil
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached conversion of the configured cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if err := purgeCache(ctx, cfg); err != nil {
				return err
			}

			NewUI(outputJSON, noColor).Success("Purged %s cache", cfg.Cache.Driver)
			return nil
		},
	}
}

func purgeCache(ctx context.Context, cfg *config.Config) error {
	store, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info().Str("driver", cfg.Cache.Driver).Msg("Purging cache")
	return store.Purge(ctx)
}
