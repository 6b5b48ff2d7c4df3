// Command sheetchunk converts spreadsheets into size-bounded Markdown text
// parts and runs the surrounding chores.
//
//	sheetchunk convert [-input DIR] [-file PATH] [-output DIR] [-max-bytes N] [-force]
//	sheetchunk sheets  [-output DIR] [-max-bytes N]
//	sheetchunk clean   [-output DIR]
//	sheetchunk fetch   [-url TEMPLATE] [-start YEAR] [-end YEAR] [-dest DIR]
//	sheetchunk reorg   -plan FILE [-base DIR]
//
// Settings come from the environment (and .env); flags override them.
// The exit code is 1 when any source or table failed, 2 for usage errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/core"
	_ "github.com/JonMunkholm/sheetchunk/internal/core/formats" // Register source formats
	"github.com/JonMunkholm/sheetchunk/internal/fetch"
	"github.com/JonMunkholm/sheetchunk/internal/ledger"
	"github.com/JonMunkholm/sheetchunk/internal/logging"
	"github.com/JonMunkholm/sheetchunk/internal/reorg"
	"github.com/JonMunkholm/sheetchunk/internal/sheets"
	"github.com/JonMunkholm/sheetchunk/internal/sink"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitRuntime = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (int, error)
}

var commands = []command{
	{"convert", "convert spreadsheets in the input folder (or one -file)", runConvert},
	{"sheets", "convert the configured Google spreadsheet", runSheets},
	{"clean", "remove generated .txt parts from the output folder", runClean},
	{"fetch", "download and unpack yearly zip archives", runFetch},
	{"reorg", "move files into folders following a plan file", runReorg},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		usage(stderr)
		return exitUsage
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}

	// .env never overrides the real environment for the CLI
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration: %v\n", err)
		return exitUsage
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	code, err := cmd.run(ctx, cfg, args[1:], stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		fmt.Fprintf(stderr, "%s: %v\n", cmd.name, err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(stderr, core.FormatUserError(err))
		}
		if code == exitOK {
			code = exitRuntime
		}
	}
	return code
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: sheetchunk <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.usage)
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// chunkFlags are shared by the commands that write parts.
type chunkFlags struct {
	output   *string
	maxBytes *int
	asJSON   *bool
}

func addChunkFlags(fs *flag.FlagSet, cfg *config.Config) chunkFlags {
	return chunkFlags{
		output:   fs.String("output", cfg.Chunk.OutputDir, "output folder for the file sink"),
		maxBytes: fs.Int("max-bytes", cfg.Chunk.MaxBytes, "byte budget per part, header included"),
		asJSON:   fs.Bool("json", false, "print the summary as JSON"),
	}
}

func (f chunkFlags) apply(cfg *config.Config) {
	cfg.Chunk.OutputDir = *f.output
	cfg.Chunk.MaxBytes = *f.maxBytes
}

func runConvert(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (int, error) {
	fs := newFlagSet("convert", out)
	input := fs.String("input", cfg.Chunk.InputDir, "folder scanned for spreadsheets")
	file := fs.String("file", "", "convert a single file instead of the input folder")
	remove := fs.Bool("remove-source", cfg.Chunk.RemoveSource, "delete sources that converted completely")
	force := fs.Bool("force", false, "convert sources the ledger shows as unchanged")
	cf := addChunkFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	cf.apply(cfg)
	cfg.Chunk.RemoveSource = *remove

	svc, cleanup, err := core.NewServiceFromConfig(ctx, cfg, func(o *core.Options) { o.Force = *force })
	if err != nil {
		return exitRuntime, err
	}
	defer cleanup()

	var sum core.Summary
	if *file != "" {
		sum, err = svc.ConvertFile(ctx, *file)
	} else {
		sum, err = svc.ConvertDir(ctx, *input)
	}
	printSummary(out, sum, *cf.asJSON)
	if err != nil {
		return exitRuntime, err
	}
	return summaryCode(sum), nil
}

func runSheets(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (int, error) {
	fs := newFlagSet("sheets", out)
	cf := addChunkFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	cf.apply(cfg)

	client, err := sheets.NewClient(ctx, cfg.Sheets)
	if err != nil {
		return exitRuntime, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Sheets.Timeout)
	snap, err := client.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return exitRuntime, err
	}

	svc, cleanup, err := core.NewServiceFromConfig(ctx, cfg)
	if err != nil {
		return exitRuntime, err
	}
	defer cleanup()

	sum, err := svc.ConvertTables(ctx, snap.Title, snap.Tables())
	for _, name := range snap.Missing {
		sum.Failures = append(sum.Failures, core.Failure{
			Source: snap.Title,
			Table:  name,
			Error:  "worksheet not found",
			Code:   "SHT001",
		})
	}
	printSummary(out, sum, *cf.asJSON)
	if err != nil {
		return exitRuntime, err
	}
	return summaryCode(sum), nil
}

// runClean removes the parts in the output folder and forgets the ledger
// entries that point at it, so the next convert writes them again.
func runClean(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (int, error) {
	fs := newFlagSet("clean", out)
	output := fs.String("output", cfg.Chunk.OutputDir, "folder to clean")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}

	n, err := core.Clean(*output)
	fmt.Fprintf(out, "removed %d part(s) from %s\n", n, *output)
	if err != nil {
		return exitFailed, err
	}

	store, closeLedger, err := ledger.Open(ctx, cfg.Database)
	if err != nil {
		return exitRuntime, err
	}
	defer closeLedger()

	target := sink.FileTarget(*output)
	forgotten, err := store.Forget(ctx, target)
	if err != nil {
		return exitRuntime, err
	}
	fmt.Fprintf(out, "forgot %d ledger entr(ies) for %s\n", forgotten, target)
	return exitOK, nil
}

func runFetch(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (int, error) {
	fs := newFlagSet("fetch", out)
	tmpl := fs.String("url", cfg.Fetch.URLTemplate, "archive URL with a {year} placeholder")
	start := fs.Int("start", cfg.Fetch.StartYear, "newest year")
	end := fs.Int("end", cfg.Fetch.EndYear, "oldest year")
	dest := fs.String("dest", cfg.Fetch.Dest, "extraction folder")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}

	opts := fetch.OptionsFromConfig(cfg.Fetch)
	opts.URLTemplate, opts.StartYear, opts.EndYear, opts.Dest = *tmpl, *start, *end, *dest
	f, err := fetch.New(opts, fetch.NewHTTPClient(cfg.Fetch.Timeout))
	if err != nil {
		return exitUsage, err
	}

	sum, err := f.Run(ctx)
	fmt.Fprintf(out, "downloaded %d, skipped %d, failed %d, files %d\n",
		sum.Downloaded, sum.Skipped, sum.Failed, sum.Files)
	if err != nil {
		return exitRuntime, err
	}
	if sum.Failed > 0 {
		return exitFailed, nil
	}
	return exitOK, nil
}

func runReorg(_ context.Context, _ *config.Config, args []string, out io.Writer) (int, error) {
	fs := newFlagSet("reorg", out)
	planFile := fs.String("plan", "", "plan file (yaml, json or toml)")
	base := fs.String("base", ".", "folder to reorganise")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if *planFile == "" {
		fs.Usage()
		return exitUsage, errors.New("-plan is required")
	}

	plan, err := reorg.LoadPlan(*planFile)
	if err != nil {
		return exitUsage, err
	}
	res, err := reorg.Apply(*base, plan)
	fmt.Fprintf(out, "moved %d, missing %d\n", len(res.Moved), len(res.Missing))
	for _, m := range res.Missing {
		fmt.Fprintf(out, "  missing: %s\n", m)
	}
	if err != nil {
		return exitFailed, err
	}
	return exitOK, nil
}

func summaryCode(sum core.Summary) int {
	if !sum.OK() || len(sum.Failures) > 0 {
		return exitFailed
	}
	return exitOK
}

func printSummary(w io.Writer, sum core.Summary, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		return
	}
	fmt.Fprintf(w, "run %s\n", sum.RunID)
	fmt.Fprintf(w, "  files:  %d converted, %d failed, %d unchanged, %d bytes read\n",
		sum.FilesConverted, sum.FilesFailed, sum.FilesSkipped, sum.SourceBytes)
	fmt.Fprintf(w, "  tables: %d converted, %d failed, %d empty\n", sum.TablesConverted, sum.TablesFailed, sum.TablesEmpty)
	fmt.Fprintf(w, "  parts:  %d written (%d oversized), %d bytes\n", sum.Parts, sum.OversizedParts, sum.Bytes)
	for _, f := range sum.Failures {
		where := f.Source
		if f.Table != "" {
			where += " / " + f.Table
		}
		fmt.Fprintf(w, "  FAILED %s [%s]: %s\n", where, f.Code, f.Error)
	}
	fmt.Fprintf(w, "  took %s\n", sum.Duration)
}
