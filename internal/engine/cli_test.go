package engine

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdqueue/internal/jobs"
)

type staticModel jobs.ModelSnapshot

func (m staticModel) Snapshot() jobs.ModelSnapshot { return jobs.ModelSnapshot(m) }

type stubExecutor struct {
	binary string
	args   []string
	lines  []string
	files  []string
	err    error
}

func (s *stubExecutor) Run(_ context.Context, binary string, args []string, onOutput func(string)) error {
	s.binary = binary
	s.args = append([]string(nil), args...)
	for _, line := range s.lines {
		onOutput(line)
	}
	for _, name := range s.files {
		if err := os.WriteFile(name, []byte("png"), 0o644); err != nil {
			return err
		}
	}
	return s.err
}

func loadedModel() staticModel {
	return staticModel{
		Name:     "sd15",
		Path:     "/models/sd15.safetensors",
		VAE:      "/models/vae.safetensors",
		Upscaler: "/models/x4.pth",
		Loaded:   true,
	}
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	idx := slices.Index(args, flag)
	require.NotEqual(t, -1, idx, "flag %s missing from %v", flag, args)
	require.Less(t, idx+1, len(args))
	return args[idx+1]
}

func TestGenerateImageBuildsArgsAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	seed := int64(42)
	stub := &stubExecutor{
		lines: []string{
			"loading model",
			"  |=====>          | 5/20 - 1.52it/s",
			"  |================| 20/20 - 1.60it/s",
			"save result image to ...",
		},
		files: []string{filepath.Join(dir, "job-1.png")},
	}
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(stub), WithThreads(6))
	require.NoError(t, err)

	var steps [][2]int
	params := jobs.GenerateParams{
		Prompt: "a lighthouse", NegativePrompt: "blurry", Width: 512, Height: 768,
		Steps: 20, CFGScale: 7.5, Sampler: "euler_a", BatchCount: 1, Seed: &seed,
	}
	outputs, err := cli.GenerateImage(context.Background(), "job-1", params, dir, Callbacks{
		Progress: func(step, total int) { steps = append(steps, [2]int{step, total}) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "job-1.png")}, outputs)
	assert.Equal(t, [][2]int{{5, 20}, {20, 20}}, steps)
	assert.Equal(t, "sd", stub.binary)
	assert.Equal(t, "img_gen", argValue(t, stub.args, "-M"))
	assert.Equal(t, "/models/sd15.safetensors", argValue(t, stub.args, "-m"))
	assert.Equal(t, "/models/vae.safetensors", argValue(t, stub.args, "--vae"))
	assert.Equal(t, "a lighthouse", argValue(t, stub.args, "-p"))
	assert.Equal(t, "blurry", argValue(t, stub.args, "-n"))
	assert.Equal(t, "768", argValue(t, stub.args, "-H"))
	assert.Equal(t, "7.5", argValue(t, stub.args, "--cfg-scale"))
	assert.Equal(t, "42", argValue(t, stub.args, "-s"))
	assert.Equal(t, "6", argValue(t, stub.args, "-t"))
	assert.Equal(t, filepath.Join(dir, "job-1.png"), argValue(t, stub.args, "-o"))
	assert.NotContains(t, stub.args, "-i")
}

func TestGenerateVideoPassesFrames(t *testing.T) {
	dir := t.TempDir()
	stub := &stubExecutor{files: []string{filepath.Join(dir, "job-v.avi")}}
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(stub))
	require.NoError(t, err)

	params := jobs.GenerateParams{Prompt: "waves", Width: 512, Height: 512, Steps: 10, CFGScale: 6, Sampler: "euler", BatchCount: 1, Frames: 24, FPS: 12}
	outputs, err := cli.GenerateVideo(context.Background(), "job-v", params, dir, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, "vid_gen", argValue(t, stub.args, "-M"))
	assert.Equal(t, "24", argValue(t, stub.args, "--video-frames"))
	assert.Equal(t, "12", argValue(t, stub.args, "--fps"))
	assert.NotContains(t, stub.args, "-s", "nil seed must not be passed")
}

type funcExecutor func(onOutput func(string), args []string) error

func (f funcExecutor) Run(_ context.Context, _ string, args []string, onOutput func(string)) error {
	return f(onOutput, args)
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, width, height))))
}

func TestGenerateImageForwardsPreviewFrames(t *testing.T) {
	dir := t.TempDir()
	var previewPath string
	run := funcExecutor(func(onOutput func(string), args []string) error {
		previewPath = argValue(t, args, "--preview-path")
		assert.Equal(t, "tae", argValue(t, args, "--preview"))
		onOutput("  |==>             | 1/4 - 1.00it/s")
		writePNG(t, previewPath, 8, 4)
		onOutput("  |======>         | 2/4 - 1.00it/s")
		onOutput("  |==========>     | 3/4 - 1.00it/s")
		return os.WriteFile(filepath.Join(dir, "job-p.png"), []byte("png"), 0o644)
	})
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(run), WithPreviewMethod("tae"))
	require.NoError(t, err)

	type frame struct{ step, width, height int }
	var frames []frame
	var steps int
	cb := Callbacks{
		Progress: func(int, int) { steps++ },
		Preview: func(step, _ int, data []byte, width, height int, intermediate bool) {
			assert.True(t, intermediate)
			assert.NotEmpty(t, data)
			frames = append(frames, frame{step, width, height})
		},
	}
	params := jobs.GenerateParams{Prompt: "fog", Width: 8, Height: 4, Steps: 4, CFGScale: 7, Sampler: "euler", BatchCount: 1}
	outputs, err := cli.GenerateImage(context.Background(), "job-p", params, dir, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "job-p.png")}, outputs, "preview file is not an output")
	assert.Equal(t, 3, steps)
	assert.Equal(t, []frame{{2, 8, 4}}, frames, "an unchanged preview is reported once")
	_, err = os.Stat(previewPath)
	assert.True(t, os.IsNotExist(err), "preview file is removed after the run")
}

func TestPreviewsNeedMethodAndCallback(t *testing.T) {
	dir := t.TempDir()
	params := jobs.GenerateParams{Prompt: "fog", Width: 8, Height: 4, Steps: 4, CFGScale: 7, Sampler: "euler", BatchCount: 1}

	stub := &stubExecutor{files: []string{filepath.Join(dir, "job-a.png")}}
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(stub), WithPreviewMethod("proj"))
	require.NoError(t, err)
	_, err = cli.GenerateImage(context.Background(), "job-a", params, dir, Callbacks{})
	require.NoError(t, err)
	assert.NotContains(t, stub.args, "--preview")

	stub = &stubExecutor{files: []string{filepath.Join(dir, "job-b.png")}}
	cli, err = NewCLI("sd", loadedModel(), WithExecutor(stub), WithPreviewMethod("none"))
	require.NoError(t, err)
	_, err = cli.GenerateImage(context.Background(), "job-b", params, dir, Callbacks{Preview: func(int, int, []byte, int, int, bool) {}})
	require.NoError(t, err)
	assert.NotContains(t, stub.args, "--preview")
}

func TestGenerateImageFromImageRequiresInit(t *testing.T) {
	dir := t.TempDir()
	stub := &stubExecutor{files: []string{filepath.Join(dir, "job-2.png"), filepath.Join(dir, "job-2_1.png")}}
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(stub))
	require.NoError(t, err)

	_, err = cli.GenerateImageFromImage(context.Background(), "job-2", jobs.GenerateParams{Prompt: "x"}, dir, Callbacks{})
	require.Error(t, err)

	params := jobs.GenerateParams{Prompt: "x", Width: 512, Height: 512, Steps: 4, CFGScale: 7, Sampler: "euler_a", BatchCount: 2, InitImage: "/in.png", Strength: 0.6}
	outputs, err := cli.GenerateImageFromImage(context.Background(), "job-2", params, dir, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.Equal(t, "/in.png", argValue(t, stub.args, "-i"))
	assert.Equal(t, "0.6", argValue(t, stub.args, "--strength"))
}

func TestGenerateWithoutModelFails(t *testing.T) {
	cli, err := NewCLI("sd", staticModel{}, WithExecutor(&stubExecutor{}))
	require.NoError(t, err)
	_, err = cli.GenerateImage(context.Background(), "job", jobs.GenerateParams{Prompt: "x"}, t.TempDir(), Callbacks{})
	require.ErrorIs(t, err, ErrNoModelLoaded)
}

func TestUpscaleRequiresUpscaler(t *testing.T) {
	dir := t.TempDir()
	model := loadedModel()
	model.Upscaler = ""
	cli, err := NewCLI("sd", model, WithExecutor(&stubExecutor{}))
	require.NoError(t, err)
	_, err = cli.Upscale(context.Background(), "job", jobs.UpscaleParams{InputImage: "/in.png", Factor: 4}, dir, Callbacks{})
	require.ErrorIs(t, err, ErrNoUpscalerLoaded)

	stub := &stubExecutor{files: []string{filepath.Join(dir, "job-u.png")}}
	cli, err = NewCLI("sd", loadedModel(), WithExecutor(stub))
	require.NoError(t, err)
	outputs, err := cli.Upscale(context.Background(), "job-u", jobs.UpscaleParams{InputImage: "/in.png", Factor: 4}, dir, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, "/models/x4.pth", argValue(t, stub.args, "--upscale-model"))
}

func TestConvertChecksOutputFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "converted", "model.gguf")
	params := jobs.ConvertParams{InputPath: "/models/in.safetensors", OutputPath: out, OutputType: "q8_0"}

	cli, err := NewCLI("sd", staticModel{}, WithExecutor(&stubExecutor{}))
	require.NoError(t, err)
	_, err = cli.Convert(context.Background(), "job-c", params, Callbacks{})
	require.Error(t, err, "missing output must fail")

	stub := &stubExecutor{files: []string{out}}
	cli, err = NewCLI("sd", staticModel{}, WithExecutor(stub))
	require.NoError(t, err)
	outputs, err := cli.Convert(context.Background(), "job-c", params, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []string{out}, outputs)
	assert.Equal(t, "q8_0", argValue(t, stub.args, "--type"))
}

func TestRunErrorIncludesLastOutput(t *testing.T) {
	stub := &stubExecutor{lines: []string{"load model failed: out of memory", ""}, err: errors.New("exit status 1")}
	cli, err := NewCLI("sd", loadedModel(), WithExecutor(stub))
	require.NoError(t, err)
	params := jobs.GenerateParams{Prompt: "x", Width: 512, Height: 512, Steps: 1, CFGScale: 7, Sampler: "euler_a", BatchCount: 1}
	_, err = cli.GenerateImage(context.Background(), "job", params, t.TempDir(), Callbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestNewCLIValidatesInputs(t *testing.T) {
	_, err := NewCLI(" ", loadedModel())
	require.Error(t, err)
	_, err = NewCLI("sd", nil)
	require.Error(t, err)
}

func TestParseProgress(t *testing.T) {
	step, total, ok := parseProgress("  |==>   | 3/30 - 2.00s/it")
	require.True(t, ok)
	assert.Equal(t, 3, step)
	assert.Equal(t, 30, total)

	_, _, ok = parseProgress("sampling completed, taking 12.3s")
	assert.False(t, ok)
	_, _, ok = parseProgress("|| 1/0")
	assert.False(t, ok)
}

func TestScanOutputLinesSplitsCarriageReturns(t *testing.T) {
	data := []byte("a\rb\nc")
	var tokens []string
	for len(data) > 0 {
		advance, token, err := scanOutputLines(data, true)
		require.NoError(t, err)
		tokens = append(tokens, string(token))
		data = data[advance:]
	}
	assert.Equal(t, []string{"a", "b", "c"}, tokens)
}

func TestUnavailableRejectsWork(t *testing.T) {
	var eng Engine = Unavailable{}
	_, err := eng.GenerateImage(context.Background(), "j", jobs.GenerateParams{}, "", Callbacks{})
	assert.ErrorIs(t, err, ErrNoModelLoaded)
	_, err = eng.Upscale(context.Background(), "j", jobs.UpscaleParams{}, "", Callbacks{})
	assert.ErrorIs(t, err, ErrNoUpscalerLoaded)
}
