package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bbiangul/agrokg"
)

// app carries the per-invocation configuration shared by subcommands.
type app struct {
	v   *viper.Viper
	cfg agrokg.Config
}

// NewRootCmd creates the root agrokg command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "agrokg",
		Short:         "Herbicide label knowledge graph",
		Long:          "agrokg loads herbicide label extractions into a knowledge graph and answers structured, vector and hybrid queries over it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("db", "", "path to the SQLite database")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.newInitCmd(),
		a.newResetCmd(),
		a.newStatsCmd(),
		a.newLoadCmd(),
		a.newIndexCmd(),
		a.newIndexDirCmd(),
		a.newQueryCmd(),
		a.newRotationCmd(),
		a.newProductCmd(),
		a.newSearchCmd(),
		a.newEvalCmd(),
	)
	return root, a
}

// configure resolves configuration with flag > env > file > defaults precedence
// and installs the slog handler.
func (a *app) configure(cmd *cobra.Command) error {
	v := a.v
	setDefaults(v, agrokg.DefaultConfig())
	v.SetEnvPrefix("AGROKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("agrokg")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agrokg")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config: %w", err)
			}
		}
	}

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{"db_path": "db", "log_format": "log-format", "verbose": "verbose"} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("binding %s flag: %w", flag, err)
		}
	}

	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if a.cfg.Embedding.APIKey == "" && a.cfg.Embedding.Provider == "openai" {
		a.cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	setupLogging(cmd.ErrOrStderr(), v.GetString("log_format"), v.GetBool("verbose"))
	return nil
}

// setDefaults registers every config key so AGROKG_* variables reach
// nested fields through Unmarshal.
func setDefaults(v *viper.Viper, d agrokg.Config) {
	defaults := map[string]any{
		"db_path":                              d.DBPath,
		"db_name":                              d.DBName,
		"storage_dir":                          d.StorageDir,
		"embedding.provider":                   d.Embedding.Provider,
		"embedding.model":                      d.Embedding.Model,
		"embedding.base_url":                   d.Embedding.BaseURL,
		"embedding.api_key":                    d.Embedding.APIKey,
		"embedding.dim":                        d.Embedding.Dim,
		"retrieval.scorer.similarity_weight":   d.Retrieval.Scorer.SimilarityWeight,
		"retrieval.scorer.corroboration_boost": d.Retrieval.Scorer.CorroborationBoost,
		"retrieval.scorer.corroboration_cap":   d.Retrieval.Scorer.CorroborationCap,
		"retrieval.candidate_factor":           d.Retrieval.CandidateFactor,
		"retrieval.max_k":                      d.Retrieval.MaxK,
		"retrieval.max_facts":                  d.Retrieval.MaxFacts,
		"neo4j.uri":                            d.Neo4j.URI,
		"neo4j.user":                           d.Neo4j.User,
		"neo4j.password":                       d.Neo4j.Password,
		"neo4j.database":                       d.Neo4j.Database,
		"neo4j.timeout":                        d.Neo4j.Timeout,
		"max_chunk_tokens":                     d.MaxChunkTokens,
		"chunk_overlap":                        d.ChunkOverlap,
		"load_concurrency":                     d.LoadConcurrency,
		"load_retries":                         d.LoadRetries,
		"record_timeout":                       d.RecordTimeout,
		"index_concurrency":                    d.IndexConcurrency,
		"embed_batch_size":                     d.EmbedBatchSize,
		"embed_cache_size":                     d.EmbedCacheSize,
		"index_timeout":                        d.IndexTimeout,
		"alias_files":                          d.AliasFiles,
		"strip_brand_suffixes":                 d.StripBrandSuffixes,
		"log_format":                           "text",
		"verbose":                              false,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

func setupLogging(w io.Writer, format string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// withEngine opens the engine for the duration of fn. Write commands pass
// initialize so constraints and reference data exist before loading.
func (a *app) withEngine(ctx context.Context, initialize bool, fn func(agrokg.Engine) error) error {
	eng, err := agrokg.New(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer eng.Close()
	if initialize {
		if _, err := eng.Initialize(ctx); err != nil {
			return err
		}
	}
	return fn(eng)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errPartialFailure makes the exit status non-zero when part of a batch
// failed after the report was printed.
var errPartialFailure = errors.New("some inputs failed; see report")
