package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bbiangul/agrokg"
	"github.com/bbiangul/agrokg/loader"
)

func (a *app) newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE|DIR...",
		Short: "Load extraction records from JSON files or directories",
		Long: "Load reads each JSON file (a single record envelope or an array of them). " +
			"Directories are expanded to their *.json files, skipping names that start with '_'.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), true, func(eng agrokg.Engine) error {
				res, err := eng.LoadFiles(cmd.Context(), args...)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				var resume *loader.ResumeError
				if errors.As(err, &resume) {
					return fmt.Errorf("%w; rerun to resume from item %d", err, resume.Position)
				}
				if err != nil {
					return err
				}
				if len(res.Failures) > 0 {
					return errPartialFailure
				}
				return nil
			})
		},
	}
}

func (a *app) newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index DOC_ID FILE",
		Short: "Chunk, embed and store the text of one label document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), true, func(eng agrokg.Engine) error {
				res, err := eng.IndexFile(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (a *app) newIndexDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-dir DIR",
		Short: "Index every label file in a directory, using file names as document ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := indexJobs(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), true, func(eng agrokg.Engine) error {
				out, err := eng.IndexFiles(cmd.Context(), jobs)
				if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				for _, o := range out {
					if o.Error != "" {
						return errPartialFailure
					}
				}
				return nil
			})
		},
	}
}

var indexableExt = map[string]bool{".txt": true, ".md": true, ".markdown": true, ".pdf": true, ".xlsx": true}

// indexJobs lists the indexable files of dir in name order.
func indexJobs(dir string) ([]agrokg.IndexJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var jobs []agrokg.IndexJob
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || strings.HasPrefix(name, "_") || !indexableExt[ext] {
			continue
		}
		jobs = append(jobs, agrokg.IndexJob{
			SourceID: strings.TrimSuffix(name, filepath.Ext(name)),
			Path:     filepath.Join(dir, name),
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Path < jobs[j].Path })
	return jobs, nil
}
