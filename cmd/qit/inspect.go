package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mgomes/qit/qit"
)

type lintWarning struct {
	Pos     qit.Position
	Message string
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	configPath := fs.String("config", "", "TOML configuration file")
	showTokens := fs.Bool("tokens", true, "print the token stream")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("qit inspect: source path required")
	}

	sourcePath, err := filepath.Abs(remaining[0])
	if err != nil {
		return fmt.Errorf("resolve source path: %w", err)
	}
	input, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	cfg, err := loadBuildConfig(*configPath)
	if err != nil {
		return err
	}
	engine, err := qit.NewEngine(cfg.engineConfig())
	if err != nil {
		return err
	}
	artifact, err := engine.Compile(string(input))
	if err != nil {
		return fmt.Errorf("inspect compile failed: %w", err)
	}

	if *showTokens {
		tokens := artifact.Tokens()
		fmt.Printf("tokens (%d):\n", len(tokens))
		for _, tok := range tokens {
			fmt.Printf("  %-7s %s\n", tok.Pos, tok)
		}
	}

	symbols := artifact.Symbols()
	fmt.Println("fields:")
	for _, block := range symbols.Blocks() {
		for _, field := range symbols.Fields(block) {
			fmt.Printf("  v$%s.%s = %d (%#x)\n", block, field.Name, field.Value, field.Value)
		}
	}

	magic := "no"
	if artifact.HasMagic() {
		magic = "yes"
	}
	fmt.Printf("output: %d bytes (body %d, magic %s)\n", len(artifact.Bytes()), len(artifact.Body()), magic)

	for _, warning := range lintTokens(artifact.Tokens()) {
		line := warning.Pos.Line
		column := warning.Pos.Column
		if line <= 0 {
			line = 1
		}
		if column <= 0 {
			column = 1
		}
		fmt.Printf("%s:%d:%d: %s\n", sourcePath, line, column, warning.Message)
	}
	return nil
}

// lintTokens reports declarations that compile but are probably mistakes:
// fields that cannot be referenced and fields that shadow an earlier one.
func lintTokens(tokens []qit.Token) []lintWarning {
	warnings := make([]lintWarning, 0)
	var block string
	inBlock := false
	declared := make(map[string]struct{})

	for i, tok := range tokens {
		switch tok.Type {
		case qit.TokenBlockStart:
			if i+1 < len(tokens) && tokens[i+1].Type == qit.TokenLabel {
				block = tokens[i+1].Literal
				inBlock = true
				declared = make(map[string]struct{})
			}
		case qit.TokenBlockEnd:
			inBlock = false
		case qit.TokenInteger:
			if i+1 >= len(tokens) || tokens[i+1].Type != qit.TokenLabel {
				continue
			}
			name := tokens[i+1].Literal
			if !inBlock {
				warnings = append(warnings, lintWarning{
					Pos:     tok.Pos,
					Message: fmt.Sprintf("field %q is outside a block and cannot be referenced", name),
				})
				continue
			}
			if _, ok := declared[name]; ok {
				warnings = append(warnings, lintWarning{
					Pos:     tokens[i+1].Pos,
					Message: fmt.Sprintf("field %q redeclared in block %q", name, block),
				})
			}
			declared[name] = struct{}{}
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Pos.Line != warnings[j].Pos.Line {
			return warnings[i].Pos.Line < warnings[j].Pos.Line
		}
		return warnings[i].Pos.Column < warnings[j].Pos.Column
	})
	return warnings
}
