package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/siherrmann/newsdedup"
	"github.com/siherrmann/newsdedup/database"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	indexType      string
	hnswM          int
	efConstruction int
	ivfLists       int
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or update the extensions, functions and the articles table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, articles, err := openArticles(true)
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Database ready, embedding dimension %d\n", articles.Dimension())
		return err
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [company]",
	Short: "Show the stored history per company namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, articles, err := openArticles(false)
		if err != nil {
			return err
		}
		defer db.Close()

		namespace := ""
		if len(args) == 1 {
			namespace = model.NamespaceFor(args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		stats, err := articles.SelectNamespaceStats(ctx, namespace)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stored articles")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAMESPACE\tENTRIES\tLAST STORED")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.Namespace, s.Entries, s.LastStoredAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// reindexCmd represents the reindex command
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the similarity index as HNSW or IVFFlat",
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind database.IndexType
		switch indexType {
		case string(database.IndexTypeHNSW):
			kind = database.IndexTypeHNSW
		case string(database.IndexTypeIVFFlat):
			kind = database.IndexTypeIVFFlat
		default:
			return fmt.Errorf("unknown index type %q, expected hnsw or ivfflat", indexType)
		}

		db, articles, err := openArticles(false)
		if err != nil {
			return err
		}
		defer db.Close()

		params := map[string]int{}
		if cmd.Flags().Changed("m") {
			params["m"] = hnswM
		}
		if cmd.Flags().Changed("ef-construction") {
			params["ef_construction"] = efConstruction
		}
		if cmd.Flags().Changed("lists") {
			params["lists"] = ivfLists
		}

		if err := articles.ChangeIndexType(cmd.Context(), kind, params); err != nil {
			return err
		}

		_, err = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Rebuilt embedding index as %s\n", kind)
		return err
	},
}

func init() {
	statsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the statistics as JSON")

	reindexCmd.Flags().StringVar(&indexType, "type", string(database.IndexTypeHNSW), "index type (hnsw, ivfflat)")
	reindexCmd.Flags().IntVar(&hnswM, "m", 16, "HNSW: max connections per layer")
	reindexCmd.Flags().IntVar(&efConstruction, "ef-construction", 64, "HNSW: candidate list size while building")
	reindexCmd.Flags().IntVar(&ivfLists, "lists", 100, "IVFFlat: number of inverted lists")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reindexCmd)
}

// openArticles connects with the DB_* settings and prepares the articles table
// for the configured dimension. reload replaces existing SQL functions.
func openArticles(reload bool) (*helper.Database, *database.ArticlesDBHandler, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	dbConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, nil, err
	}

	return newsdedup.OpenIndex(dbConfig, cfg.Dedup.Dimension, reload, newLogger())
}
