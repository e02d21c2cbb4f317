package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/matchcache/internal/app"
	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/kvstore"
	"github.com/onnwee/matchcache/internal/logger"
)

func main() {
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	resolveCmd := flag.NewFlagSet("resolve", flag.ExitOnError)
	staleCmd := flag.NewFlagSet("stale", flag.ExitOnError)
	sortCmd := flag.NewFlagSet("sort", flag.ExitOnError)
	purgeCmd := flag.NewFlagSet("purge", flag.ExitOnError)

	getID := getCmd.String("id", "", "Document id to look up")
	resolveFile := resolveCmd.String("file", "-", "JSON file with an array of {id, date} refs (- for stdin)")
	staleDate := staleCmd.String("date", "", "Document date")
	staleDays := staleCmd.Int("days", 7, "Threshold in days")
	sortFile := sortCmd.String("file", "-", "JSON file with an array of {id, date} refs (- for stdin)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	var err error
	switch os.Args[1] {
	case "get":
		getCmd.Parse(os.Args[2:])
		err = runGet(cfg, *getID)
	case "resolve":
		resolveCmd.Parse(os.Args[2:])
		err = runResolve(cfg, *resolveFile)
	case "stale":
		staleCmd.Parse(os.Args[2:])
		err = runStale(*staleDate, *staleDays, time.Now())
	case "sort":
		sortCmd.Parse(os.Args[2:])
		err = runSort(*sortFile)
	case "purge":
		purgeCmd.Parse(os.Args[2:])
		err = runPurge(cfg)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func printUsage() {
	fmt.Println("matchcache - document cache tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  cachectl <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  get      Look up one document through the caches")
	fmt.Println("  resolve  Resolve a set of dated refs, newest first")
	fmt.Println("  stale    Report whether a date is older than a threshold")
	fmt.Println("  sort     Print refs ordered newest first")
	fmt.Println("  purge    Drop expired items from the persistent store")
	fmt.Println()
	fmt.Println("Use 'cachectl <command> -h' for command options.")
}

func runGet(cfg *config.Config, id string) error {
	if id == "" {
		return fmt.Errorf("-id is required")
	}
	a, err := app.New(cfg, logger.WithComponent("cachectl"))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	res, err := a.Resolver.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func runResolve(cfg *config.Config, path string) error {
	refs, err := readRefs(path)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, logger.WithComponent("cachectl"))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*time.Duration(len(refs)+1))
	defer cancel()
	docs, err := a.Resolver.Resolve(ctx, refs)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, docs)
}

func runStale(date string, days int, now time.Time) error {
	if date == "" {
		return fmt.Errorf("-date is required")
	}
	if _, ok := cache.ParseDate(date); !ok {
		fmt.Fprintf(os.Stderr, "warning: %q is not a recognised date; treated as fresh\n", date)
	}
	return printJSON(os.Stdout, map[string]interface{}{
		"date":  date,
		"days":  days,
		"stale": cache.IsOlderThanThreshold(date, days, now),
	})
}

func runSort(path string) error {
	refs, err := readRefs(path)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, cache.SortByDateDescending(refs))
}

func runPurge(cfg *config.Config) error {
	s, err := kvstore.Open(cfg, logger.WithComponent("cachectl"))
	if err != nil {
		return err
	}
	defer s.Close()

	p, ok := s.(kvstore.Purger)
	if !ok {
		return fmt.Errorf("%s store expires items on its own", cfg.StoreBackend)
	}
	n, err := p.Purge()
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]interface{}{"backend": cfg.StoreBackend, "purged": n})
}

func readRefs(path string) ([]cache.DocumentRef, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var refs []cache.DocumentRef
	if err := json.NewDecoder(r).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decode refs: %w", err)
	}
	return refs, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
