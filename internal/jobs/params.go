package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"sdqueue/internal/textutil"
)

// Generation defaults applied by NormalizeParams.
const (
	DefaultWidth      = 512
	DefaultHeight     = 512
	DefaultSteps      = 20
	DefaultCFGScale   = 7.0
	DefaultSampler    = "euler_a"
	DefaultBatchCount = 1
	DefaultStrength   = 0.75
	DefaultFrames     = 16
	DefaultFPS        = 8
	DefaultUpscale    = 4
)

// GenerateParams configures text-to-image, image-to-image and video jobs.
type GenerateParams struct {
	Prompt         string  `json:"prompt" validate:"required,max=8000"`
	NegativePrompt string  `json:"negative_prompt,omitempty" validate:"max=8000"`
	Width          int     `json:"width,omitempty" validate:"omitempty,min=64,max=4096"`
	Height         int     `json:"height,omitempty" validate:"omitempty,min=64,max=4096"`
	Steps          int     `json:"steps,omitempty" validate:"omitempty,min=1,max=150"`
	CFGScale       float64 `json:"cfg_scale,omitempty" validate:"omitempty,gt=0,lte=30"`
	Seed           *int64  `json:"seed,omitempty"`
	Sampler        string  `json:"sampler,omitempty" validate:"omitempty,oneof=euler euler_a heun dpm2 dpm++2s_a dpm++2m dpm++2mv2 ipndm lcm"`
	BatchCount     int     `json:"batch_count,omitempty" validate:"omitempty,min=1,max=16"`
	InitImage      string  `json:"init_image,omitempty"`
	Strength       float64 `json:"strength,omitempty" validate:"omitempty,gt=0,lte=1"`
	Frames         int     `json:"frames,omitempty" validate:"omitempty,min=1,max=256"`
	FPS            int     `json:"fps,omitempty" validate:"omitempty,min=1,max=60"`
}

// UpscaleParams configures an upscale job.
type UpscaleParams struct {
	InputImage string `json:"input_image" validate:"required"`
	Factor     int    `json:"factor,omitempty" validate:"omitempty,min=2,max=8"`
}

// ConvertParams configures a model format conversion job.
type ConvertParams struct {
	InputPath  string `json:"input_path" validate:"required"`
	OutputType string `json:"output_type" validate:"required,oneof=f32 f16 q8_0 q5_0 q5_1 q4_0 q4_1 q4_k q3_k q2_k"`
	OutputPath string `json:"output_path,omitempty"`
}

// DownloadParams configures a model download job.
type DownloadParams struct {
	URL            string `json:"url" validate:"required,url"`
	ModelType      string `json:"model_type" validate:"required,oneof=checkpoint diffusion vae lora upscaler taesd controlnet clip t5xxl"`
	Filename       string `json:"filename,omitempty" validate:"max=255"`
	Subfolder      string `json:"subfolder,omitempty"`
	ExpectedSHA256 string `json:"expected_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// HashParams configures a model hash job. FilePath is empty while the job
// is held behind its linked download.
type HashParams struct {
	FilePath       string `json:"file_path,omitempty"`
	ModelType      string `json:"model_type,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
	Size           int64  `json:"size,omitempty"`
	ExpectedSHA256 string `json:"expected_sha256,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeParams decodes a params blob into T. An empty blob decodes to the
// zero value.
func DecodeParams[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode params: %w", err)
	}
	return out, nil
}

func decodeStrict[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, invalidParams("%v", err)
	}
	if err := validate.Struct(out); err != nil {
		return out, invalidParams("%s", describeValidation(err))
	}
	return out, nil
}

// ValidateParams rejects malformed or incomplete params for kind. Every
// error wraps ErrInvalidParams or ErrUnknownKind.
func ValidateParams(kind Kind, raw json.RawMessage) error {
	switch kind {
	case KindGenerateImage, KindGenerateImageFromImage, KindGenerateVideo:
		params, err := decodeStrict[GenerateParams](raw)
		if err != nil {
			return err
		}
		if params.Width%8 != 0 || params.Height%8 != 0 {
			return invalidParams("width and height must be multiples of 8")
		}
		if kind == KindGenerateImageFromImage && strings.TrimSpace(params.InitImage) == "" {
			return invalidParams("init_image is required")
		}
		if kind != KindGenerateVideo && (params.Frames != 0 || params.FPS != 0) {
			return invalidParams("frames and fps apply only to video jobs")
		}
		return nil
	case KindUpscale:
		_, err := decodeStrict[UpscaleParams](raw)
		return err
	case KindConvert:
		_, err := decodeStrict[ConvertParams](raw)
		return err
	case KindModelDownload:
		params, err := decodeStrict[DownloadParams](raw)
		if err != nil {
			return err
		}
		return validateDownloadTarget(params)
	case KindModelHash:
		params, err := decodeStrict[HashParams](raw)
		if err != nil {
			return err
		}
		if strings.TrimSpace(params.FilePath) == "" {
			return invalidParams("file_path is required")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func validateDownloadTarget(params DownloadParams) error {
	if name := params.Filename; name != "" {
		if filepath.Base(name) != name || name == "." || name == ".." {
			return invalidParams("filename must not contain path separators")
		}
	}
	if sub := params.Subfolder; sub != "" && !filepath.IsLocal(sub) {
		return invalidParams("subfolder must be a relative path inside the models directory")
	}
	if downloadFilename(params) == "" {
		return invalidParams("filename cannot be derived from url")
	}
	return nil
}

// downloadFilename returns the explicit filename or the unescaped, sanitized
// last URL path element.
func downloadFilename(params DownloadParams) string {
	if params.Filename != "" {
		return params.Filename
	}
	parsed, err := url.Parse(params.URL)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.EscapedPath())
	if base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return textutil.SanitizeFileName(base)
}

// NormalizeParams fills defaults so the stored blob records exactly what the
// engine was asked to do. seed supplies a value when the caller asked for a
// random seed.
func NormalizeParams(kind Kind, raw json.RawMessage, seed func() int64) (json.RawMessage, error) {
	switch kind {
	case KindGenerateImage, KindGenerateImageFromImage, KindGenerateVideo:
		params, err := DecodeParams[GenerateParams](raw)
		if err != nil {
			return nil, err
		}
		params.Width = orDefault(params.Width, DefaultWidth)
		params.Height = orDefault(params.Height, DefaultHeight)
		params.Steps = orDefault(params.Steps, DefaultSteps)
		params.BatchCount = orDefault(params.BatchCount, DefaultBatchCount)
		if params.CFGScale == 0 {
			params.CFGScale = DefaultCFGScale
		}
		if params.Sampler == "" {
			params.Sampler = DefaultSampler
		}
		if params.Seed == nil || *params.Seed < 0 {
			value := seed()
			params.Seed = &value
		}
		if kind == KindGenerateImageFromImage && params.Strength == 0 {
			params.Strength = DefaultStrength
		}
		if kind == KindGenerateVideo {
			params.Frames = orDefault(params.Frames, DefaultFrames)
			params.FPS = orDefault(params.FPS, DefaultFPS)
		}
		return json.Marshal(params)
	case KindUpscale:
		params, err := DecodeParams[UpscaleParams](raw)
		if err != nil {
			return nil, err
		}
		params.Factor = orDefault(params.Factor, DefaultUpscale)
		return json.Marshal(params)
	case KindConvert:
		params, err := DecodeParams[ConvertParams](raw)
		if err != nil {
			return nil, err
		}
		if params.OutputPath == "" {
			ext := filepath.Ext(params.InputPath)
			params.OutputPath = strings.TrimSuffix(params.InputPath, ext) + "." + params.OutputType + ".gguf"
		}
		return json.Marshal(params)
	case KindModelDownload:
		params, err := DecodeParams[DownloadParams](raw)
		if err != nil {
			return nil, err
		}
		params.Filename = downloadFilename(params)
		return json.Marshal(params)
	case KindModelHash:
		return compactParams(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ExpectedSteps returns the sampling step count a generative job will report,
// or zero when the kind has no meaningful step hint.
func ExpectedSteps(kind Kind, raw json.RawMessage) int {
	if !kind.Generative() {
		return 0
	}
	params, err := DecodeParams[GenerateParams](raw)
	if err != nil {
		return 0
	}
	return orDefault(params.Steps, DefaultSteps)
}

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func compactParams(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, invalidParams("%v", err)
	}
	return buf.Bytes(), nil
}

// searchFields gathers the free-text fields of any params blob.
type searchFields struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	URL            string `json:"url"`
	Filename       string `json:"filename"`
	ModelName      string `json:"model_name"`
	InputPath      string `json:"input_path"`
	InputImage     string `json:"input_image"`
	InitImage      string `json:"init_image"`
}

func searchableText(job *Job) []string {
	// Undecodable params still match on model metadata.
	fields, _ := DecodeParams[searchFields](job.Params)
	return []string{
		fields.Prompt,
		fields.NegativePrompt,
		fields.URL,
		fields.Filename,
		fields.ModelName,
		fields.InputPath,
		fields.InputImage,
		fields.InitImage,
		job.Model.Name,
		job.Model.Architecture,
	}
}
