package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/fade/internal/client"
	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/store"
)

// serverURL routes add, search and trim through a running server instead of
// opening the store directly. "env" reads FADE_URL.
var serverURL string

func remote() *client.Client {
	if serverURL == "env" {
		return client.New("")
	}
	return client.New(serverURL)
}

// --- trim command ---

var trimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Run one trimming pass against the configured store",
	Long:  "Scan every memory and delete those whose trim score exceeds TRIM_THRESHOLD.",
	RunE:  runTrim,
}

func runTrim(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		ctx, stop := signalContext()
		defer stop()
		res, err := remote().Trim(ctx)
		if err != nil {
			return fmt.Errorf("trim: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d\ndeleted: %d\n", res.Scanned, res.Deleted)
		if res.Error != "" {
			return fmt.Errorf("trim: %s", res.Error)
		}
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vs, desc, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer vs.Close()

	fmt.Fprintf(os.Stderr, "trimming %s (threshold %g)\n", desc, cfg.Trim.Threshold)

	ctx, stop := signalContext()
	defer stop()

	res := engine.NewTrimmer(vs, scoringParams(cfg), trimConfig(cfg)).Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d\ndeleted: %d\n", res.Scanned, res.Deleted)
	if res.Err != nil {
		return fmt.Errorf("trim: %w", res.Err)
	}
	return nil
}

// --- search command ---

var (
	searchTopK      int
	searchRetrieveN int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search memories by similarity. Selected results receive the usual access boost.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	if serverURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		results, err := remote().Search(ctx, query, searchTopK, searchRetrieveN)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range results {
			printResult(i+1, r)
		}
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vs, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer vs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	emb, _, err := newEmbedder(ctx, cfg, vs)
	if err != nil {
		return err
	}

	svc := engine.NewService(vs, emb, scoringParams(cfg), nil)
	defer svc.Close()

	res, err := svc.Retrieve(ctx, engine.SearchRequest{
		Query:     query,
		TopK:      searchTopK,
		RetrieveN: searchRetrieveN,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(res.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, r := range res.Results {
		printResult(i+1, r)
	}
	fmt.Printf("%d of %d raw results, access boost +%.2f\n", len(res.Results), res.RawCount, res.Specificity)
	return nil
}

func printResult(n int, r store.ScoredPoint) {
	if r.Payload == nil {
		fmt.Printf("%d. [%.3f] %s (no payload)\n\n", n, r.Score, r.ID)
		return
	}
	var weighted float64
	if r.Payload.WeightedAccessScore != nil {
		weighted = *r.Payload.WeightedAccessScore
	}
	fmt.Printf("%d. [%.3f] %s [%s] weight=%.2f\n", n, r.Score, r.ID, r.Payload.MemoryType, weighted)

	content := r.Payload.Content
	if len(content) > 200 {
		content = content[:200] + "..."
	}
	fmt.Printf("   %s\n\n", content)
}

// --- add command ---

var (
	addType   string
	addSource string
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")

	if serverURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := remote().Add(ctx, content, addType, addSource)
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}
		fmt.Printf("%s (initial score %.2f)\n", res.ID, res.InitialScore)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vs, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer vs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	emb, _, err := newEmbedder(ctx, cfg, vs)
	if err != nil {
		return err
	}
	if err := ensureCollection(ctx, vs, emb.Dimensions()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	svc := engine.NewService(vs, emb, scoringParams(cfg), nil)
	defer svc.Close()

	res, err := svc.Ingest(ctx, engine.IngestRequest{
		Content:    content,
		MemoryType: addType,
		SourceID:   addSource,
	})
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	fmt.Printf("%s (initial score %.2f)\n", res.ID, res.InitialScore)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{trimCmd, searchCmd, addCmd} {
		c.Flags().StringVar(&serverURL, "server", "", `Use a running server at this URL ("env" reads FADE_URL)`)
	}
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", engine.DefaultTopK, "Raw search breadth")
	searchCmd.Flags().IntVarP(&searchRetrieveN, "limit", "n", engine.DefaultRetrieveN, "Number of results to select")

	addCmd.Flags().StringVarP(&addType, "type", "t", "note", "Memory type")
	addCmd.Flags().StringVar(&addSource, "source", "", "Optional source id")
}
