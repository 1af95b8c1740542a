package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/app"
	"github.com/dvloznov/spendalizer/internal/archivestore"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/config"
	"github.com/dvloznov/spendalizer/internal/logger"
	"github.com/dvloznov/spendalizer/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	switch os.Args[1] {
	case "seed":
		runSeed(cfg, log)
	case "backup":
		runBackup(cfg, log)
	case "restore":
		runRestore(cfg, log)
	case "backups":
		runBackups(cfg, log)
	case "categorize":
		runCategorize(cfg, log)
	case "import":
		runImport(cfg, log)
	case "check":
		runCheck(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SpendAlizer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  seed        Insert missing system categories")
	fmt.Println("  backup      Write an owner's data to a backup archive")
	fmt.Println("  restore     Replace an owner's data with a backup archive")
	fmt.Println("  backups     List stored archives for an owner")
	fmt.Println("  categorize  Re-run rule and AI categorization")
	fmt.Println("  import      Import a CSV bank statement")
	fmt.Println("  check       Report category integrity for an owner")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func openApp(ctx context.Context, cfg config.Config, log zerolog.Logger) *app.App {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return a
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}

func runSeed(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", cfg.Categories.SystemFile, "System category definitions file (defaults to the built-in table)")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)

	s, err := app.OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	defs, err := categories.LoadDefinitions(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load category definitions")
	}
	res, err := categories.EnsureSystemCategories(ctx, s, defs, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Printf("System categories: %d inserted, %d already present.\n", res.Inserted, res.Existing)
}

func runBackup(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id")
	out := fs.String("out", "", "Output file (defaults to a dated name in the current directory)")
	fs.Parse(os.Args[2:])

	if *owner == "" {
		log.Fatal().Msg("Usage: cli backup -owner ID [-out FILE]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	data, md, err := a.Serializer.Archive(ctx, *owner, backup.KindManual)
	if err != nil {
		log.Fatal().Err(err).Msg("Backup failed")
	}

	path := *out
	if path == "" {
		path = backup.DownloadName(md.CreatedAt)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to write archive")
	}

	fmt.Printf("Wrote %s: %d transactions, %d categories, %d rules, %d accounts.\n",
		path, md.Counts.Transactions, md.Counts.Categories, md.Counts.Rules, md.Counts.Accounts)
}

func runRestore(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id whose data is replaced")
	in := fs.String("in", "", "Backup archive file to restore")
	location := fs.String("archive", "", "Location of a stored archive, as printed by 'cli backups'")
	fs.Parse(os.Args[2:])

	if *owner == "" || (*in == "") == (*location == "") {
		log.Fatal().Msg("Usage: cli restore -owner ID (-in FILE | -archive LOCATION)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	var data []byte
	var err error
	if *in != "" {
		data, err = os.ReadFile(*in)
	} else {
		data, err = a.Archives.Get(ctx, *location)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read archive")
	}

	res, err := a.Reconciler.Restore(ctx, *owner, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Restore failed")
	}
	printJSON(res)
}

func runBackups(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id")
	fs.Parse(os.Args[2:])

	if *owner == "" {
		log.Fatal().Msg("Usage: cli backups -owner ID")
	}

	ctx := logger.WithContext(context.Background(), log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	objs, err := a.Archives.List(ctx, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list archives")
	}

	var owned []archivestore.Object
	for _, o := range objs {
		if backup.OwnsArchive(o.Name, *owner) {
			owned = append(owned, o)
		}
	}
	if len(owned) == 0 {
		fmt.Println("No archives found.")
		return
	}
	for _, o := range owned {
		fmt.Printf("%s  %8d  %s\n", o.Updated.Format(time.RFC3339), o.Size, o.Location)
	}
}

func runCategorize(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id")
	tiersFlag := fs.String("tiers", "rules,ai", "Comma-separated tiers to run")
	ids := fs.String("ids", "", "Comma-separated transaction ids (defaults to every uncategorized transaction)")
	fs.Parse(os.Args[2:])

	if *owner == "" {
		log.Fatal().Msg("Usage: cli categorize -owner ID [-tiers rules,ai] [-ids ID,ID]")
	}
	tiers, err := categorize.ParseTiers(*tiersFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -tiers")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	var res categorize.BulkResult
	if *ids == "" {
		res, err = a.Resolver.RecategorizeUncategorized(ctx, *owner, tiers)
	} else {
		res, err = a.Resolver.Recategorize(ctx, *owner, splitList(*ids), tiers)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Categorization failed")
	}
	res.Outcomes = nil
	printJSON(res)
}

func runImport(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id")
	account := fs.String("account", "", "Account id the statement belongs to")
	file := fs.String("file", "", "CSV statement")
	source := fs.String("source", pipeline.DefaultDataSource, "Data source label")
	fs.Parse(os.Args[2:])

	if *owner == "" || *account == "" || *file == "" {
		log.Fatal().Msg("Usage: cli import -owner ID -account ID -file PATH [-source NAME]")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	batch, err := a.Importer.Import(ctx, pipeline.Request{
		OwnerID:    *owner,
		AccountID:  *account,
		DataSource: *source,
		FileName:   filepath.Base(*file),
		Data:       data,
	})
	if batch != nil {
		printJSON(batch)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}
}

func runCheck(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id")
	fs.Parse(os.Args[2:])

	if *owner == "" {
		log.Fatal().Msg("Usage: cli check -owner ID")
	}

	ctx := logger.WithContext(context.Background(), log)

	a := openApp(ctx, cfg, log)
	defer a.Close()

	report, err := categories.DataCheck(ctx, a.Store, *owner)
	if err != nil {
		log.Fatal().Err(err).Msg("Data check failed")
	}
	printJSON(report)

	if !report.Healthy() {
		log.Error().Strs("orphaned_category_ids", report.OrphanedCategoryIDs).Msg("Orphaned category references found")
		a.Close()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
