// Command expiryctl operates on an expirycore database from the shell:
// exporting backups, restoring them and printing record counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"expirycore/internal/backup"
	"expirycore/internal/blob"
	"expirycore/internal/core"
)

var exitFunc = os.Exit

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "expiryctl:", err)
		exitFunc(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: expiryctl <export|import|stats> [flags]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc, cleanup, err := openService(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	exchange := backup.NewExchange(svc, logger)

	switch args[0] {
	case "export":
		return runExport(ctx, exchange, args[1:])
	case "import":
		return runImport(ctx, exchange, args[1:])
	case "stats":
		return runStats(ctx, svc)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openService(ctx context.Context, logger *slog.Logger) (*core.Service, func(), error) {
	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, nil, err
	}
	photos, err := blob.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithPhotoStore(photos),
	)
	cleanup := func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn("closing store", "err", cerr)
			}
		}
	}
	return svc, cleanup, nil
}

func runExport(ctx context.Context, exchange *backup.Exchange, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "write the archive to this file instead of the blob store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out != "" {
		if err := exchange.ExportFile(ctx, *out); err != nil {
			return err
		}
		fmt.Println(*out)
		return nil
	}
	info, err := exchange.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Println(info.Key)
	return nil
}

func runImport(ctx context.Context, exchange *backup.Exchange, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "archive file to restore")
	key := fs.String("key", "", "blob store key to restore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		summary backup.Summary
		err     error
	)
	switch {
	case *file != "":
		summary, err = exchange.ImportFile(ctx, *file)
	case *key != "":
		summary, err = exchange.ImportFromBlob(ctx, *key)
	default:
		return fmt.Errorf("import needs -file or -key")
	}
	if err != nil {
		return err
	}
	fmt.Printf("imported %d products, %d batches, %d stores, %d categories, %d photos\n",
		summary.Products, summary.Batches, summary.Stores, summary.Categories, summary.Photos)
	return nil
}

func runStats(ctx context.Context, svc *core.Service) error {
	products := svc.ListProducts(ctx)
	batches := 0
	for _, p := range products {
		batches += len(p.Batches)
	}
	stores, err := svc.GetAllStores(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("products:   %d\n", len(products))
	fmt.Printf("batches:    %d\n", batches)
	fmt.Printf("stores:     %d\n", len(stores))
	fmt.Printf("categories: %d\n", len(svc.ListCategories(ctx)))
	return nil
}
