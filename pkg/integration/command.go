package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/parser"
	"github.com/rs/zerolog"
)

// Command runs an integration method as an external process. The process is
// started as
//
//	Path Args... --input <in.json> --output <out.json> --batch <key> [--hvg <genes.txt>]
//
// and must write the integrated dataset (same cells, corrected X and/or
// embeddings) to the output path. Its lifetime is bound to the context.
type Command struct {
	Method string
	Path   string
	Args   []string
	Env    []string // extra KEY=VALUE entries
	Logger zerolog.Logger
}

func (c *Command) Name() string { return c.Method }

func (c *Command) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	workDir, err := os.MkdirTemp("", "scib-"+c.Method+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	in := filepath.Join(workDir, "input.json")
	out := filepath.Join(workDir, "output.json")
	if err := parser.SaveDataset(ds, in); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), c.Args...), "--input", in, "--output", out, "--batch", batchKey)
	if len(hvg) > 0 {
		genes := filepath.Join(workDir, "hvg.txt")
		if err := os.WriteFile(genes, []byte(strings.Join(hvg, "\n")+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write gene list: %w", err)
		}
		args = append(args, "--hvg", genes)
	}

	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = append(os.Environ(), c.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.Logger.Info().
		Str("method", c.Method).
		Str("path", c.Path).
		Int("cells", ds.NumCells()).
		Msg("Starting external integration")

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", c.Method, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.Method, err, strings.TrimSpace(stderr.String()))
	}

	c.Logger.Info().
		Str("method", c.Method).
		Dur("elapsed", time.Since(start)).
		Msg("External integration finished")

	result, err := parser.LoadDataset(out)
	if err != nil {
		return nil, fmt.Errorf("reading %s output: %w", c.Method, err)
	}
	return &Output{Corrected: result}, nil
}
