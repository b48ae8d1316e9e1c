package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/config"
	"carelog/internal/database"
	"carelog/internal/logging"
	"carelog/internal/service"
)

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)

	exportOutput := exportCmd.String("output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")

	importInput := importCmd.String("input", "", "Input file path (required)")
	importClear := importCmd.Bool("clear", false, "Clear existing data before import (WARNING: destructive)")
	importYes := importCmd.Bool("yes", false, "Do not ask for confirmation before clearing")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.LogFormat = "console"
	out, err := logging.FromConfig(cfg)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to open log")
	}
	defer out.Close()
	logger := out.Logger

	ctx := context.Background()

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// Migrate so imports always land on the current schema.
	if _, err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	backupService := service.NewBackupService(db, logger)

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		if err := handleExport(ctx, backupService, *exportOutput, logger); err != nil {
			logger.Fatal().Err(err).Msg("export failed")
		}

	case "import":
		importCmd.Parse(os.Args[2:])
		if *importInput == "" {
			fmt.Println("Error: -input flag is required")
			importCmd.PrintDefaults()
			os.Exit(1)
		}
		if err := handleImport(ctx, backupService, *importInput, *importClear, *importYes, logger); err != nil {
			logger.Fatal().Err(err).Msg("import failed")
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func handleExport(ctx context.Context, backupService *service.BackupService, outputPath string, logger zerolog.Logger) error {
	if outputPath == "" {
		outputPath = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
	}

	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	logger.Info().Str("path", outputPath).Msg("exporting database")
	backup, err := backupService.ExportToWriter(ctx, f)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush backup file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	logger.Info().
		Str("path", outputPath).
		Float64("size_mb", float64(info.Size())/1024/1024).
		Int("children", len(backup.Children)).
		Int("logs", len(backup.Logs)).
		Msg("export complete")
	return nil
}

func handleImport(ctx context.Context, backupService *service.BackupService, inputPath string, clearData, assumeYes bool, logger zerolog.Logger) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	if clearData {
		if !assumeYes && !confirm("WARNING: This will delete all existing data. Type 'yes' to confirm: ") {
			logger.Info().Msg("import cancelled")
			return nil
		}
		logger.Warn().Msg("clearing existing data")
		if err := backupService.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear database: %w", err)
		}
	}

	logger.Info().Str("path", inputPath).Msg("importing database")
	summary, err := backupService.ImportFromReader(ctx, f)
	if err != nil {
		return err
	}
	logger.Info().Interface("imported", summary.Imported).Interface("skipped", summary.Skipped).Msg("import complete")
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

func printUsage() {
	fmt.Println("CareLog Database Backup Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backup export [options]    Export database to JSON file")
	fmt.Println("  backup import [options]    Import database from JSON file")
	fmt.Println()
	fmt.Println("Export Options:")
	fmt.Println("  -output <file>    Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	fmt.Println()
	fmt.Println("Import Options:")
	fmt.Println("  -input <file>     Input file path (required)")
	fmt.Println("  -clear            Clear existing data before import (WARNING: destructive)")
	fmt.Println("  -yes              Skip the confirmation prompt of -clear")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DB_TYPE          Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH          SQLite database path (default: ./carelog.db)")
	fmt.Println("  DATABASE_URL     PostgreSQL or MySQL connection URL")
}
