package main

import (
	"encoding/json"
	"strings"
	"testing"

	"sdqueue/internal/jobs"
)

func TestJobSummary(t *testing.T) {
	hash, _ := json.Marshal(jobs.HashParams{FilePath: "/models/flux.gguf", ModelName: "flux.gguf", Size: 1_500_000_000})
	held, _ := json.Marshal(jobs.HashParams{ModelName: "flux.gguf"})
	prompt, _ := json.Marshal(jobs.GenerateParams{Prompt: "a  lighthouse\nat dusk " + strings.Repeat("very ", 20)})

	cases := []struct {
		name string
		job  jobs.Job
		want string
	}{
		{
			name: "hashed model shows size",
			job:  jobs.Job{Kind: jobs.KindModelHash, Status: jobs.StatusCompleted, Params: hash},
			want: "flux.gguf (1.5 GB)",
		},
		{
			name: "held hash job",
			job:  jobs.Job{Kind: jobs.KindModelHash, Status: jobs.StatusPending, LinkedJobID: "dl", Params: held},
			want: "flux.gguf (waiting for download)",
		},
		{
			name: "convert",
			job:  jobs.Job{Kind: jobs.KindConvert, Params: json.RawMessage(`{"input_path":"/m/a.safetensors","output_type":"q8_0"}`)},
			want: "/m/a.safetensors -> q8_0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := jobSummary(tc.job); got != tc.want {
				t.Fatalf("jobSummary = %q, want %q", got, tc.want)
			}
		})
	}

	got := jobSummary(jobs.Job{Kind: jobs.KindGenerateImage, Params: prompt})
	if len([]rune(got)) != summaryWidth || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected truncated prompt, got %q", got)
	}
}
