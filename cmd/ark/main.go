// cmd/ark/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/Kannupriyasingh/Ark/internal/bytecode"
	"github.com/Kannupriyasingh/Ark/internal/compiler"
	"github.com/Kannupriyasingh/Ark/internal/config"
	"github.com/Kannupriyasingh/Ark/internal/vm"
)

const configFile = "ark.yaml"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	if args[0] == "--help" || args[0] == "-h" || args[0] == "help" {
		showUsage()
		return
	}

	if args[0] == "--version" || args[0] == "-v" || args[0] == "version" {
		fmt.Printf("ark %d.%d.%d\n", bytecode.VersionMajor, bytecode.VersionMinor, bytecode.VersionPatch)
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", configFile, err)
		os.Exit(1)
	}

	rest, verbosity := extractVerbosity(args[1:])
	if verbosity > cfg.Debug {
		cfg.Debug = verbosity
	}
	commonlog.Configure(cfg.Debug, nil)

	switch args[0] {
	case "build":
		if err := buildCommand(rest, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "run":
		if err := runCommand(rest, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		showUsage()
		os.Exit(1)
	}
}

// extractVerbosity pulls -v / -vv flags out of the argument list.
func extractVerbosity(args []string) ([]string, int) {
	rest := make([]string, 0, len(args))
	verbosity := 0
	for _, arg := range args {
		if strings.HasPrefix(arg, "-v") && strings.TrimLeft(arg, "-v") == "" {
			verbosity += strings.Count(arg, "v")
			continue
		}
		rest = append(rest, arg)
	}
	return rest, verbosity
}

func buildCommand(args []string, cfg *config.Config) error {
	var input, output string
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			output = args[i+1]
			i++
			continue
		}
		input = args[i]
	}
	if input == "" {
		return fmt.Errorf("usage: ark build <file.ark> [-o out.arkc]")
	}
	if output == "" {
		output = strings.TrimSuffix(input, ".ark") + ".arkc"
	}

	comp, err := compileFile(input, cfg)
	if err != nil {
		return err
	}
	return comp.SaveTo(output)
}

func runCommand(args []string, cfg *config.Config) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: ark run <file.ark|file.arkc>")
	}
	input := args[0]

	machine := vm.NewVM(false)
	machine.SetLibPaths(cfg.LibPaths)

	if strings.HasSuffix(input, ".arkc") {
		if err := machine.Feed(input); err != nil {
			return err
		}
	} else {
		comp, err := compileFile(input, cfg)
		if err != nil {
			return err
		}
		if err := machine.FeedBytes(comp.Bytecode()); err != nil {
			return err
		}
	}

	_, err := machine.Run()
	return err
}

func compileFile(path string, cfg *config.Config) (*compiler.Compiler, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	comp := compiler.New(cfg.Debug, cfg.LibPaths, 0)
	if err := comp.Feed(string(source), path); err != nil {
		return nil, err
	}
	if err := comp.Compile(); err != nil {
		return nil, err
	}
	return comp, nil
}

func showUsage() {
	fmt.Println(`Ark - a small Lisp-family language

Usage:
  ark build <file.ark> [-o out.arkc]   compile a source file
  ark run <file.ark|file.arkc>         compile if needed, then execute
  ark version                          print the toolchain version

Options:
  -v, -vv                              increase log verbosity`)
}
