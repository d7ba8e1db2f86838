package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"sdqueue/internal/jobs"
)

// ModelSource reports the model the registry currently has loaded.
type ModelSource interface {
	Snapshot() jobs.ModelSnapshot
}

// Option configures the CLI engine.
type Option func(*CLI)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *CLI) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithThreads pins the CPU thread count passed to the tool.
func WithThreads(threads int) Option {
	return func(c *CLI) {
		c.threads = threads
	}
}

// WithPreviewMethod enables the tool's preview image (proj, tae or vae).
// Empty or "none" disables previews.
func WithPreviewMethod(method string) Option {
	return func(c *CLI) {
		if method == "none" {
			method = ""
		}
		c.preview = method
	}
}

// CLI runs stable-diffusion.cpp's sd binary once per job.
type CLI struct {
	binary  string
	models  ModelSource
	exec    Executor
	threads int
	preview string
}

// NewCLI constructs an engine around binary.
func NewCLI(binary string, models ModelSource, opts ...Option) (*CLI, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("sd binary required")
	}
	if models == nil {
		return nil, errors.New("model source required")
	}
	c := &CLI{binary: binary, models: models, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *CLI) GenerateImage(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error) {
	return c.generate(ctx, jobID, "img_gen", params, outputDir, ".png", cb)
}

func (c *CLI) GenerateImageFromImage(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error) {
	if params.InitImage == "" {
		return nil, errors.New("init image required")
	}
	return c.generate(ctx, jobID, "img_gen", params, outputDir, ".png", cb)
}

func (c *CLI) GenerateVideo(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error) {
	return c.generate(ctx, jobID, "vid_gen", params, outputDir, ".avi", cb)
}

func (c *CLI) generate(ctx context.Context, jobID, mode string, params jobs.GenerateParams, outputDir, ext string, cb Callbacks) ([]string, error) {
	model := c.models.Snapshot()
	if !model.Loaded || model.Path == "" {
		return nil, ErrNoModelLoaded
	}
	args := []string{"-M", mode, "-m", model.Path}
	if model.VAE != "" {
		args = append(args, "--vae", model.VAE)
	}
	args = append(args,
		"-p", params.Prompt,
		"-W", strconv.Itoa(params.Width),
		"-H", strconv.Itoa(params.Height),
		"--steps", strconv.Itoa(params.Steps),
		"--cfg-scale", strconv.FormatFloat(params.CFGScale, 'f', -1, 64),
		"--sampling-method", params.Sampler,
		"-b", strconv.Itoa(params.BatchCount),
	)
	if params.NegativePrompt != "" {
		args = append(args, "-n", params.NegativePrompt)
	}
	if params.Seed != nil {
		args = append(args, "-s", strconv.FormatInt(*params.Seed, 10))
	}
	if params.InitImage != "" {
		args = append(args, "-i", params.InitImage, "--strength", strconv.FormatFloat(params.Strength, 'f', -1, 64))
	}
	if mode == "vid_gen" {
		args = append(args, "--video-frames", strconv.Itoa(params.Frames), "--fps", strconv.Itoa(params.FPS))
	}
	if c.preview != "" && cb.Preview != nil && outputDir != "" {
		// The leading dot keeps the preview out of the job-id output glob.
		pf := &previewFile{path: filepath.Join(outputDir, "."+jobID+".preview.png"), report: cb.Preview}
		defer pf.remove()
		args = append(args, "--preview", c.preview, "--preview-path", pf.path)
		cb = pf.wrap(cb)
	}
	return c.render(ctx, jobID, mode, args, outputDir, ext, cb)
}

func (c *CLI) Upscale(ctx context.Context, jobID string, params jobs.UpscaleParams, outputDir string, cb Callbacks) ([]string, error) {
	model := c.models.Snapshot()
	if model.Upscaler == "" {
		return nil, ErrNoUpscalerLoaded
	}
	args := []string{"-M", "upscale", "--upscale-model", model.Upscaler, "-i", params.InputImage}
	return c.render(ctx, jobID, "upscale", args, outputDir, ".png", cb)
}

func (c *CLI) Convert(ctx context.Context, jobID string, params jobs.ConvertParams, cb Callbacks) ([]string, error) {
	if params.OutputPath == "" {
		return nil, errors.New("output path required")
	}
	if err := os.MkdirAll(filepath.Dir(params.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	args := []string{"-M", "convert", "-m", params.InputPath, "-o", params.OutputPath, "--type", params.OutputType}
	if err := c.run(ctx, "convert", args, cb); err != nil {
		return nil, err
	}
	if _, err := os.Stat(params.OutputPath); err != nil {
		return nil, fmt.Errorf("sd convert produced no output file: %w", err)
	}
	return []string{params.OutputPath}, nil
}

// render runs one generation and collects every file the tool wrote with
// the job id as prefix.
func (c *CLI) render(ctx context.Context, jobID, mode string, args []string, outputDir, ext string, cb Callbacks) ([]string, error) {
	if outputDir == "" {
		return nil, errors.New("output directory required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	args = append(args, "-o", filepath.Join(outputDir, jobID+ext))
	if err := c.run(ctx, mode, args, cb); err != nil {
		return nil, err
	}
	outputs, err := filepath.Glob(filepath.Join(outputDir, jobID+"*"))
	if err != nil {
		return nil, fmt.Errorf("collect outputs: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("sd %s produced no output file", mode)
	}
	slices.Sort(outputs)
	return outputs, nil
}

func (c *CLI) run(ctx context.Context, mode string, args []string, cb Callbacks) error {
	if c.threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.threads))
	}
	var last string
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		if step, total, ok := parseProgress(line); ok {
			cb.progress(step, total)
			return
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			last = trimmed
		}
	})
	if err != nil {
		if last != "" {
			return fmt.Errorf("sd %s: %w (last output: %s)", mode, err, last)
		}
		return fmt.Errorf("sd %s: %w", mode, err)
	}
	return nil
}

// progressPattern matches the tool's progress bar, e.g.
// "  |=====>      | 5/20 - 1.52it/s".
var progressPattern = regexp.MustCompile(`\|[=> ]*\|\s*(\d+)/(\d+)`)

func parseProgress(line string) (int, int, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, 0, false
	}
	step, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	total, err := strconv.Atoi(match[2])
	if err != nil || total <= 0 {
		return 0, 0, false
	}
	return step, total, true
}

// scanOutputLines splits on both newlines and carriage returns; progress
// bars redraw in place with \r.
func scanOutputLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
