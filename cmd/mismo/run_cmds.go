package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/entitystore"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
)

// localFlags are shared by the commands that record runs.
type localFlags struct {
	dataDir     string
	packsDir    string
	defaultPack string
	pack        string
	jsonOutput  bool
}

func (f *localFlags) register(cmd *flag.FlagSet) {
	cmd.StringVar(&f.dataDir, "data", envOr("DATA_DIR", "data"), "Directory holding runs.db and artifacts")
	cmd.StringVar(&f.packsDir, "packs-dir", os.Getenv("MISMO_PACKS_DIR"), "Directory of additional YAML schema packs")
	cmd.StringVar(&f.defaultPack, "default-pack", os.Getenv("MISMO_DEFAULT_PACK"), "Registry default pack")
	cmd.StringVar(&f.pack, "pack", "", "Pin the schema pack")
	cmd.BoolVar(&f.jsonOutput, "json", false, "Print the conformance report as JSON")
}

// runExportCmd implements `mismo export`.
//
// The generated document goes to --out, or to stdout unless --json is set.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		lf            localFlags
		dealPath      string
		outPath       string
		skipPreflight bool
	)
	lf.register(cmd)
	cmd.StringVar(&dealPath, "deal", "", "Path to a canonical deal JSON file (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Write the MISMO XML document to this file")
	cmd.BoolVar(&skipPreflight, "skip-preflight", false, "Skip business-rule validation")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dealPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --deal is required")
		return 2
	}
	cliLogger(stderr)

	ctx := context.Background()
	env, err := openLocal(ctx, lf.dataDir, lf.packsDir, lf.defaultPack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = env.Close() }()

	exp, err := pipeline.NewExporter(env.deps, fileSource{})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res, err := exp.Export(ctx, pipeline.ExportRequest{DealReference: dealPath, PackID: lf.pack, SkipPreflight: skipPreflight})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	printRun(stderr, res.Result)
	if res.XML != nil {
		switch {
		case outPath != "":
			//nolint:gosec // G306: generated documents are not secrets
			if err := os.WriteFile(outPath, res.XML, 0644); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: write %s: %v\n", outPath, err)
				return 2
			}
		case !lf.jsonOutput:
			_, _ = stdout.Write(res.XML)
		}
	}
	if lf.jsonOutput {
		if code := printReport(stdout, stderr, res.Report); code != 0 {
			return code
		}
	}
	return runExitCode(res.Result)
}

// runImportCmd implements `mismo import`.
//
// Mapped deals are created in the entity store at ENTITY_STORE_URL when it
// is set, otherwise under <data>/deals.
func runImportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("import", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		lf       localFlags
		filePath string
		rawOnly  bool
	)
	lf.register(cmd)
	cmd.StringVar(&filePath, "file", "", "Path to a MISMO XML document (REQUIRED)")
	cmd.BoolVar(&rawOnly, "raw-only", false, "Store the document without mapping it to a deal")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if filePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}
	data, err := os.ReadFile(filePath) //nolint:gosec // operator-provided path
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cliLogger(stderr)

	ctx := context.Background()
	env, err := openLocal(ctx, lf.dataDir, lf.packsDir, lf.defaultPack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = env.Close() }()

	var sink pipeline.DealSink = fileSink{dir: filepath.Join(env.dir, "deals")}
	if url := os.Getenv("ENTITY_STORE_URL"); url != "" {
		client, err := entitystore.New(entitystore.Config{BaseURL: url, Secret: os.Getenv("ENTITY_STORE_SECRET")})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		sink = client
	}
	imp, err := pipeline.NewImporter(env.deps, sink)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res, err := imp.Import(ctx, pipeline.ImportRequest{XML: data, PackID: lf.pack, RawOnly: rawOnly})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	printRun(stderr, res.Result)
	if lf.jsonOutput {
		if code := printReport(stdout, stderr, res.Report); code != 0 {
			return code
		}
	} else if ref := res.Run.CreatedDealReference; ref != "" {
		_, _ = fmt.Fprintln(stdout, ref)
	}
	return runExitCode(res.Result)
}

func runExitCode(res pipeline.Result) int {
	if res.Run.Status.Succeeded() {
		return 0
	}
	return 1
}

func printRun(w io.Writer, res pipeline.Result) {
	run := res.Run
	color := ColorGreen
	if !run.Status.Succeeded() {
		color = ColorRed
	}
	fmt.Fprintf(w, "%s%s%s run %s pack=%s stage=%s\n", color, run.Status, ColorReset, run.RunID, run.PackID, run.Stage)
	if run.ContentHash != "" {
		fmt.Fprintf(w, "  content_hash: %s (%d bytes)\n", run.ContentHash, run.ByteSize)
	}
	if run.DuplicateOf != "" {
		fmt.Fprintf(w, "  duplicate_of: %s\n", run.DuplicateOf)
	}
	if res.Report != nil {
		printFindings(w, res.Report.Validation.Findings)
	}
}

func printFindings(w io.Writer, findings []contracts.Finding) {
	for _, f := range findings {
		color := ColorYellow
		if f.IsError() {
			color = ColorRed
		}
		fmt.Fprintf(w, "  %s%-7s%s %s %s: %s\n", color, f.Severity, ColorReset, f.Code, f.Field, f.Message)
	}
}

func printReport(stdout, stderr io.Writer, rep *conform.ConformanceReport) int {
	data, err := conform.Marshal(rep)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = stdout.Write(data)
	_, _ = fmt.Fprintln(stdout)
	return 0
}
