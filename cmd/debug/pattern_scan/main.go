// Command pattern_scan checks the configured patterns against a client
// executable on disk, without starting the client.
//
//	pattern_scan [--config nosbind.yaml] [--base 0x400000] NostaleClientX.exe
//	pattern_scan [--config nosbind.yaml] --process NostaleClientX.exe
//	pattern_scan [--config nosbind.yaml] --pid 1234
//
// The last two forms read the patterns out of a running client instead.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RIscRIpt/pecoff"
	"github.com/RIscRIpt/pecoff/binutil"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"nosbind/config"
	"nosbind/scanner"
)

func main() {
	var (
		configPath string
		base       uint32
		dumpConfig bool
		verbose    bool
		pid        uint32
		procName   string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	pflag.Uint32Var(&base, "base", 0x400000, "image base the executable is mapped at")
	pflag.BoolVar(&dumpConfig, "dump-config", false, "print the effective config and exit")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "log every section")
	pflag.Uint32Var(&pid, "pid", 0, "scan the running client with this pid")
	pflag.StringVar(&procName, "process", "", "scan the first running process with this executable name")
	pflag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("[SCAN] could not load config")
	}
	if dumpConfig {
		if err := yaml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			log.Fatal().Err(err).Msg("[SCAN] could not dump config")
		}
		return
	}

	var findings []finding
	if pid != 0 || procName != "" {
		mem, module, detach, err := attach(pid, procName)
		if err != nil {
			log.Fatal().Err(err).Uint32("pid", pid).Str("process", procName).Msg("[SCAN] could not attach")
		}
		defer detach()
		log.Info().Str("module", module.Name).Str("base", fmt.Sprintf("0x%X", module.Base)).Int("size", module.Size).Msg("[SCAN] attached")
		findings, err = scanAll(scanner.New(mem, module), mem, cfg)
		if err != nil {
			log.Error().Err(err).Msg("[SCAN] some patterns could not be scanned")
		}
	} else {
		if pflag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: pattern_scan [flags] <client executable>")
			pflag.PrintDefaults()
			os.Exit(2)
		}
		path := pflag.Arg(0)

		sections, err := loadSections(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("[SCAN] could not read executable")
		}
		for _, s := range sections {
			log.Debug().Str("section", s.name).Str("rva", fmt.Sprintf("0x%X", s.rva)).Int("size", len(s.data)).Msg("[SCAN] mapped")
		}

		img, module := mapSections(uintptr(base), filepath.Base(path), sections)
		findings, err = scanAll(scanner.New(img, module), img, cfg)
		if err != nil {
			log.Error().Err(err).Msg("[SCAN] some patterns could not be scanned")
		}
	}
	if err := report(os.Stdout, findings); err != nil {
		log.Fatal().Err(err).Msg("[SCAN] could not write report")
	}

	missing := 0
	for _, f := range findings {
		if !f.found {
			missing++
		}
	}
	if missing > 0 {
		log.Warn().Int("missing", missing).Msg("[SCAN] patterns without a match")
		os.Exit(1)
	}
}

func loadSections(path string) ([]section, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	file := pecoff.Explore(binutil.WrapByteSlice(raw))
	if err := file.ReadAll(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	file.Seal()

	var out []section
	for _, s := range file.Sections.Array() {
		out = append(out, section{name: s.NameString(), rva: s.VirtualAddress, data: s.RawData()})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no sections", path)
	}
	return out, nil
}
