// Package app drives validation runs over a submission root: one directory per
// project, one or more *.sdrf.tsv files per project.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bigbio/sdrf-validate/internal/report"
	"github.com/bigbio/sdrf-validate/pkg/pipeline/worker"
	"go.uber.org/zap"
)

// FilePattern matches the SDRF files of a project directory.
const FilePattern = "*.sdrf.tsv"

// FileValidator validates one file. *validate.Engine implements it.
type FileValidator interface {
	ValidateFile(ctx context.Context, path string) (report.FileResult, error)
}

// RunConfig is everything a run needs; nothing is read from process globals.
type RunConfig struct {
	// Root is the submission root directory.
	Root string
	// Projects restricts the run to these project directories. Empty means every
	// directory under Root, sorted by name.
	Projects []string
	// Workers bounds concurrent file validation within a project.
	Workers int

	Validator FileValidator
	Printer   *report.Printer
	Logger    *zap.Logger
}

// Run validates every selected project and prints per-project status lines and the
// final summary. The summary is printed even when ctx is cancelled part way; in
// that case it covers the completed projects and ctx.Err() is returned.
func Run(ctx context.Context, cfg RunConfig) (summary report.Summary, err error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Validator == nil || cfg.Printer == nil {
		return report.Summary{}, fmt.Errorf("validator and printer are required")
	}

	projects := cfg.Projects
	if len(projects) == 0 {
		projects, err = DiscoverProjects(cfg.Root)
		if err != nil {
			return report.Summary{}, err
		}
	}

	summary.Total = len(projects)
	start := time.Now()
	log.Info("run started", zap.String("root", cfg.Root), zap.Int("projects", len(projects)), zap.Int("workers", cfg.Workers))
	defer func() {
		cfg.Printer.Summary(summary)
		log.Info("run finished",
			zap.Int("checked", summary.Checked),
			zap.Int("errors", summary.Errors),
			zap.Int("warnings", summary.Warnings),
			zap.Duration("duration", time.Since(start)),
			zap.Bool("interrupted", err != nil),
		)
	}()

	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		status, results, err := validateProject(ctx, cfg, log, project)
		if err != nil {
			return summary, err
		}
		for _, r := range results {
			cfg.Printer.File(r)
		}
		cfg.Printer.Project(status)
		summary.Add(status)
	}
	return summary, nil
}

func validateProject(ctx context.Context, cfg RunConfig, log *zap.Logger, project string) (report.ProjectStatus, []report.FileResult, error) {
	status := report.ProjectStatus{Project: project}
	log = log.With(zap.String("project", project))

	files, err := ProjectFiles(cfg.Root, project)
	if err != nil {
		return status, nil, err
	}
	if len(files) == 0 {
		log.Debug("no sdrf files found")
		status.Outcome = report.NotFound
		return status, nil, nil
	}

	onResult := func(r worker.Result[string, report.FileResult]) error {
		if r.Err != nil {
			return r.Err
		}
		log.Debug("file validated",
			zap.String("file", r.Output.Name()),
			zap.Stringer("severity", r.Output.Severity()),
			zap.Strings("failed_stages", r.Output.FailedStages()),
		)
		if r.Output.Err != nil {
			log.Warn("file could not be validated", zap.String("file", r.Output.Name()), zap.String("stage", r.Output.Stage), zap.Error(r.Output.Err))
		}
		return nil
	}
	done, err := worker.ProcessAllWithCallback(ctx, files, cfg.Validator.ValidateFile, onResult, worker.Options{Workers: cfg.Workers})
	if err != nil {
		return status, nil, err
	}

	results := make([]report.FileResult, 0, len(done))
	for _, r := range done {
		status.Add(r.Output)
		results = append(results, r.Output)
	}
	return status, results, nil
}

// DiscoverProjects lists the directories directly under root, sorted.
func DiscoverProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read submission root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// ProjectFiles returns the SDRF files of a project, sorted. A missing project
// directory yields no files, as does a name that is not a single directory name.
func ProjectFiles(root, project string) ([]string, error) {
	if !isProjectName(project) {
		return nil, nil
	}
	dir := filepath.Join(root, project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list files of %s: %w", project, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(FilePattern, e.Name()); ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func isProjectName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
