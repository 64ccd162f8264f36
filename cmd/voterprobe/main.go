// Command voterprobe samples candidate extracts and target rosters and reports
// whether votermatch could read them.
//
// It reads a bounded prefix of each file, detects delimiter and encoding,
// resolves the required columns for the file's role and prints the parser
// options (comma, encoding, header_map) a pipeline config needs.
//
// Files come either from -path/-role or from a pipeline config (-config),
// in which case the first candidate shard and the target roster are probed.
//
// Exit codes: 0 every file resolves, 1 a file is unreadable or missing
// required columns, 2 usage or config errors.
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
	"path/filepath"
	"sort"
	"syscall"

	"votermatch/internal/config"
	"votermatch/internal/probe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type target struct {
	path string
	role probe.Role
}

type jsonReport struct {
	probe.Report
	Parser config.Options `json:"parser,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voterprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		path     = fs.String("path", "", "file to probe")
		role     = fs.String("role", string(probe.RoleCandidates), "file role: candidates or target")
		cfgPath  = fs.String("config", "", "pipeline config; probes its first candidate shard and target roster")
		maxBytes = fs.Int("bytes", probe.DefaultMaxBytes, "bytes sampled from the start of each file")
		delim    = fs.String("delimiter", "", "force the field delimiter (default: detect)")
		asJSON   = fs.Bool("json", false, "print reports as JSON")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	targets, err := resolveTargets(*path, probe.Role(*role), *cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "voterprobe: %v\n", err)
		return 2
	}
	if *maxBytes <= 0 {
		fmt.Fprintln(stderr, "voterprobe: -bytes must be > 0")
		return 2
	}
	var forced rune
	if *delim != "" {
		r := []rune(*delim)
		if len(r) != 1 {
			fmt.Fprintf(stderr, "voterprobe: -delimiter must be a single character, got %q\n", *delim)
			return 2
		}
		forced = r[0]
	}

	code := 0
	var out []jsonReport
	for _, tg := range targets {
		rep, err := probe.File(ctx, tg.path, probe.Options{Role: tg.role, MaxBytes: *maxBytes, Delimiter: forced})
		if err != nil {
			fmt.Fprintf(stderr, "voterprobe: %s: %v\n", tg.path, err)
			code = 1
			continue
		}
		if !rep.OK() {
			code = 1
		}
		if *asJSON {
			out = append(out, jsonReport{Report: rep, Parser: rep.ParserOptions()})
			continue
		}
		fmt.Fprint(stdout, rep.Text())
		fmt.Fprintln(stdout)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "voterprobe: encode: %v\n", err)
			return 1
		}
	}
	return code
}

func resolveTargets(path string, role probe.Role, cfgPath string) ([]target, error) {
	switch {
	case path != "" && cfgPath != "":
		return nil, errors.New("use either -path or -config, not both")
	case path != "":
		if role != probe.RoleCandidates && role != probe.RoleTarget {
			return nil, fmt.Errorf("unknown -role %q", role)
		}
		return []target{{path: path, role: role}}, nil
	case cfgPath != "":
		p, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		var out []target
		if p.Candidates.Dir != "" {
			matches, err := filepath.Glob(filepath.Join(p.Candidates.Dir, p.Candidates.Pattern))
			if err != nil {
				return nil, fmt.Errorf("candidates.pattern: %w", err)
			}
			if len(matches) > 0 {
				sort.Strings(matches)
				out = append(out, target{path: matches[0], role: probe.RoleCandidates})
			}
		}
		if p.Target.Path != "" {
			out = append(out, target{path: p.Target.Path, role: probe.RoleTarget})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s names no readable candidate shard or target", cfgPath)
		}
		return out, nil
	default:
		return nil, errors.New("-path or -config is required")
	}
}
