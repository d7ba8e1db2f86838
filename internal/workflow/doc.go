// Package workflow runs the single worker that executes queued jobs.
//
// The Manager waits on the job store's ready signal, claims jobs one at a
// time in FIFO order and dispatches them: generative, upscale and convert
// kinds go to the engine under the model registry's lock, model downloads go
// to the download client, and hash jobs are computed locally. Outcomes are
// written back through the store, which persists and publishes them.
//
// Downloads that belong to a linked pair release their hash job on success
// and fail it directly on failure. Stop blocks until the in-flight job has
// finished; the shutdown timeout only decides when a warning is logged.
package workflow
