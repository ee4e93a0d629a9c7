package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
	"github.com/Mindburn-Labs/mismo/pkg/structural"
)

// runValidateCmd implements `mismo validate`. No run is recorded.
//
// Exit codes:
//
//	0 = PASS or PASS_WITH_WARNINGS
//	1 = FAIL
//	2 = runtime error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		filePath    string
		packID      string
		packsDir    string
		defaultPack string
		jsonOutput  bool
	)
	cmd.StringVar(&filePath, "file", "", "Path to a MISMO XML document (REQUIRED)")
	cmd.StringVar(&packID, "pack", "", "Validate against this pack instead of the detected one")
	cmd.StringVar(&packsDir, "packs-dir", os.Getenv("MISMO_PACKS_DIR"), "Directory of additional YAML schema packs")
	cmd.StringVar(&defaultPack, "default-pack", os.Getenv("MISMO_DEFAULT_PACK"), "Registry default pack")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the validation report as JSON")

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
	reg, err := loadRegistry(packsDir, defaultPack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if packID == "" {
		packID = mismoxml.DetectPack(reg, data)
	}
	pack, err := reg.Resolve(packID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var rep contracts.ValidationReport
	if doc, err := mismoxml.Parse(data); err != nil {
		rep = structural.Malformed(err)
	} else {
		rep = structural.NewValidator().ValidateDocument(doc, pack)
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Pack       schemapack.Ref              `json:"pack"`
			Validation contracts.ValidationReport `json:"validation"`
		}{pack.Ref(), rep}); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else {
		color := ColorGreen
		if rep.Failed() {
			color = ColorRed
		}
		_, _ = fmt.Fprintf(stdout, "%s%s%s %s (pack %s)\n", color, rep.Status, ColorReset, filePath, pack.ID)
		printFindings(stdout, rep.Findings)
	}
	if rep.Failed() {
		return 1
	}
	return 0
}

// runPacksCmd implements `mismo packs`.
func runPacksCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("packs", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packsDir    string
		defaultPack string
		jsonOutput  bool
	)
	cmd.StringVar(&packsDir, "packs-dir", os.Getenv("MISMO_PACKS_DIR"), "Directory of additional YAML schema packs")
	cmd.StringVar(&defaultPack, "default-pack", os.Getenv("MISMO_DEFAULT_PACK"), "Registry default pack")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	reg, err := loadRegistry(packsDir, defaultPack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	def := reg.Default().ID
	if jsonOutput {
		type packJSON struct {
			schemapack.Ref
			Products []string `json:"products,omitempty"`
			Default  bool     `json:"default"`
		}
		out := make([]packJSON, 0)
		for _, p := range reg.List() {
			out = append(out, packJSON{Ref: p.Ref(), Products: p.Products, Default: p.ID == def})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}

	for _, p := range reg.List() {
		marker := " "
		if p.ID == def {
			marker = "*"
		}
		_, _ = fmt.Fprintf(stdout, "%s %-24s %-8s b%-5s %-9s %s\n",
			marker, p.ID, p.Version, p.Build, p.Profile, strings.Join(p.Products, ","))
	}
	return 0
}

// runHashCmd implements `mismo hash`, printing "<hash>  <file>" per argument.
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: mismo hash <file>...")
		return 2
	}
	for _, path := range cmd.Args() {
		data, err := os.ReadFile(path) //nolint:gosec // operator-provided path
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "%s  %s\n", canonicalize.ContentHash(data), path)
	}
	return 0
}
