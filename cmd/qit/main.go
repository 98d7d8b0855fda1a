package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgomes/qit/qit"
)

const sourceExt = ".qit"

func main() {
	if err := runCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCLI(args []string) error {
	if len(args) < 2 {
		return usageError()
	}
	switch args[1] {
	case "build":
		return buildCommand(args[2:])
	case "fmt":
		return fmtCommand(args[2:])
	case "inspect":
		return inspectCommand(args[2:])
	case "repl":
		return runREPL()
	case "lsp":
		return runLSP(args[2:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return usageError()
	}
}

func buildCommand(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	outPath := fs.String("o", "", "output path (default: source path with the output extension)")
	configPath := fs.String("config", "", "TOML configuration file")
	strict := fs.Bool("strict", false, "reject fields declared outside a block")
	hexDump := fs.Bool("hex", false, "print a hex dump instead of writing the output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("qit build: source path required")
	}
	sourcePath := remaining[0]

	cfg, err := loadBuildConfig(*configPath)
	if err != nil {
		return err
	}
	if *strict {
		cfg.RequireBlock = true
	}

	if ext := filepath.Ext(sourcePath); ext != sourceExt {
		fmt.Fprintf(os.Stderr, "warning: input file has extension %q, may not be a %q file\n", ext, sourceExt)
	}
	input, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	engine, err := qit.NewEngine(cfg.engineConfig())
	if err != nil {
		return err
	}
	artifact, err := engine.Compile(string(input))
	if err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}
	out := artifact.Bytes()

	if *hexDump {
		fmt.Print(hex.Dump(out))
		return nil
	}

	output := *outPath
	if output == "" {
		output = defaultOutputPath(sourcePath, cfg.OutputExt)
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", output, err)
	}
	fmt.Printf("compiled %d bytes -> %s\n", len(out), output)
	return nil
}

func defaultOutputPath(sourcePath, ext string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ext
}

func usageError() error {
	printUsage()
	return errors.New("invalid command")
}

func printUsage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags] [args...]\n", prog)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  build [-o out] [-config file] [-strict] [-hex] <file.qit>")
	fmt.Fprintln(os.Stderr, "    compile a layout source into binary output")
	fmt.Fprintln(os.Stderr, "  fmt [-w] [-check] <paths...>")
	fmt.Fprintln(os.Stderr, "    normalize whitespace in .qit sources")
	fmt.Fprintln(os.Stderr, "  inspect [-config file] <file.qit>")
	fmt.Fprintln(os.Stderr, "    print the token stream and resolved fields")
	fmt.Fprintln(os.Stderr, "  repl")
	fmt.Fprintln(os.Stderr, "    start an interactive session")
	fmt.Fprintln(os.Stderr, "  lsp [-config file]")
	fmt.Fprintln(os.Stderr, "    serve the language server protocol over stdio")
}

type flagErrorSink struct{}

func (flagErrorSink) Write(p []byte) (int, error) {
	return len(p), nil
}
