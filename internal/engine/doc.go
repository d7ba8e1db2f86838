// Package engine defines the boundary to the compute backend that renders
// images and video, upscales and converts model files.
//
// The worker treats an Engine as opaque: it hands over typed params, a job id
// and an output directory together with per-dispatch callbacks, and gets back
// output paths or an error. Engines are not reentrant and offer no
// cancellation point once a job has started.
//
// CLI drives the stable-diffusion.cpp command line tool. Unavailable is used
// when no backend is configured.
package engine
