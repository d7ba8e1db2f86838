package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sdqueue/internal/config"
	"sdqueue/internal/jobs"
	"sdqueue/internal/queueaccess"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a new job",
	}
	submitCmd.AddCommand(newGenerateCommand(ctx, "image <prompt>", "Generate images from a prompt", jobs.KindGenerateImage))
	submitCmd.AddCommand(newGenerateCommand(ctx, "img2img <prompt>", "Generate images from a prompt and an init image", jobs.KindGenerateImageFromImage))
	submitCmd.AddCommand(newGenerateCommand(ctx, "video <prompt>", "Generate a video from a prompt", jobs.KindGenerateVideo))
	submitCmd.AddCommand(newUpscaleCommand(ctx))
	submitCmd.AddCommand(newConvertCommand(ctx))
	submitCmd.AddCommand(newDownloadCommand(ctx))
	return submitCmd
}

func newGenerateCommand(ctx *commandContext, use, short string, kind jobs.Kind) *cobra.Command {
	var params jobs.GenerateParams
	var seed int64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Prompt = strings.Join(args, " ")
			if cmd.Flags().Changed("seed") {
				params.Seed = &seed
			}
			if params.InitImage != "" {
				resolved, err := config.ExpandPath(params.InitImage)
				if err != nil {
					return err
				}
				params.InitImage = resolved
			}
			return submitJob(ctx, cmd, kind, params)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&params.NegativePrompt, "negative", "n", "", "Negative prompt")
	flags.IntVarP(&params.Width, "width", "W", 0, "Image width (default 512)")
	flags.IntVarP(&params.Height, "height", "H", 0, "Image height (default 512)")
	flags.IntVar(&params.Steps, "steps", 0, "Sampling steps (default 20)")
	flags.Float64Var(&params.CFGScale, "cfg-scale", 0, "Classifier-free guidance scale (default 7)")
	flags.Int64Var(&seed, "seed", -1, "Seed; negative picks a random seed")
	flags.StringVar(&params.Sampler, "sampler", "", "Sampling method (default euler_a)")
	flags.IntVarP(&params.BatchCount, "batch", "b", 0, "Number of images to generate")
	switch kind {
	case jobs.KindGenerateImageFromImage:
		flags.StringVarP(&params.InitImage, "init-image", "i", "", "Init image path")
		flags.Float64Var(&params.Strength, "strength", 0, "Denoising strength (default 0.75)")
		_ = cmd.MarkFlagRequired("init-image")
	case jobs.KindGenerateVideo:
		flags.IntVar(&params.Frames, "frames", 0, "Video frame count (default 16)")
		flags.IntVar(&params.FPS, "fps", 0, "Video frame rate (default 8)")
	}
	return cmd
}

func newUpscaleCommand(ctx *commandContext) *cobra.Command {
	var params jobs.UpscaleParams
	cmd := &cobra.Command{
		Use:   "upscale <image>",
		Short: "Upscale an image with the configured upscaler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			params.InputImage = resolved
			return submitJob(ctx, cmd, jobs.KindUpscale, params)
		},
	}
	cmd.Flags().IntVar(&params.Factor, "factor", 0, "Upscale factor (default 4)")
	return cmd
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var params jobs.ConvertParams
	cmd := &cobra.Command{
		Use:   "convert <model>",
		Short: "Convert a model to another weight type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			params.InputPath = resolved
			if params.OutputPath != "" {
				if params.OutputPath, err = config.ExpandPath(params.OutputPath); err != nil {
					return err
				}
			}
			return submitJob(ctx, cmd, jobs.KindConvert, params)
		},
	}
	cmd.Flags().StringVarP(&params.OutputType, "type", "t", "", "Target weight type (f16, q8_0, q4_0 ...)")
	cmd.Flags().StringVarP(&params.OutputPath, "output", "o", "", "Output path (default next to the input)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var params jobs.DownloadParams
	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a model and verify its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.URL = strings.TrimSpace(args[0])
			params.ExpectedSHA256 = strings.ToLower(strings.TrimSpace(params.ExpectedSHA256))
			return ctx.withController(cmd, func(ctl queueaccess.Access) error {
				downloadID, hashID, err := ctl.SubmitModelDownload(cmd.Context(), params)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued download %s\n", downloadID)
				fmt.Fprintf(out, "Queued hash     %s (starts after the download)\n", hashID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&params.ModelType, "type", "t", "checkpoint", "Model type (checkpoint, vae, lora, upscaler ...)")
	cmd.Flags().StringVar(&params.Filename, "filename", "", "Destination file name (default from the URL)")
	cmd.Flags().StringVar(&params.Subfolder, "subfolder", "", "Subfolder below the model type directory")
	cmd.Flags().StringVar(&params.ExpectedSHA256, "sha256", "", "Expected SHA-256 of the downloaded file")
	return cmd
}

func submitJob(ctx *commandContext, cmd *cobra.Command, kind jobs.Kind, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return ctx.withController(cmd, func(ctl queueaccess.Access) error {
		id, err := ctl.Submit(cmd.Context(), kind, raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", kind, id)
		return nil
	})
}
