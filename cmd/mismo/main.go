package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/mismo/pkg/config"
)

const version = "0.3.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = run blocked or failed, document FAIL
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "import":
		return runImportCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "packs":
		return runPacksCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "mismo %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sMISMO pipeline %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sCanonical deals in, conformant MISMO 3.4 out.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  mismo <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVICE")
	printCommand(w, "serve", "Run the HTTP API (configured from MISMO_CONFIG and the environment)")

	printSection(w, "CONVERSION")
	printCommand(w, "export", "Export a canonical deal file to MISMO XML (--deal, --out)")
	printCommand(w, "import", "Import a MISMO XML document (--file, --raw-only)")
	printCommand(w, "validate", "Structurally validate a document without recording a run (--file)")

	printSection(w, "UTILITIES")
	printCommand(w, "packs", "List the registered schema packs")
	printCommand(w, "hash", "Print the content hash of files")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// cliLogger installs a text handler on stderr for the offline commands.
func cliLogger(stderr io.Writer) {
	level, err := config.ParseLevel(envOr("LOG_LEVEL", "WARN"))
	if err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
