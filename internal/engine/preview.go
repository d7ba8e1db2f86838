package engine

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"
)

// previewFile forwards the image sd rewrites at --preview-path. It is
// polled on every progress line; a frame is reported once per rewrite.
type previewFile struct {
	path    string
	report  PreviewFunc
	modTime time.Time
	size    int64
}

func (p *previewFile) wrap(cb Callbacks) Callbacks {
	progress := cb.Progress
	cb.Progress = func(step, total int) {
		if progress != nil {
			progress(step, total)
		}
		p.poll(step)
	}
	return cb
}

func (p *previewFile) poll(step int) {
	info, err := os.Stat(p.path)
	if err != nil || info.Size() == 0 {
		return
	}
	if info.ModTime().Equal(p.modTime) && info.Size() == p.size {
		return
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	// A half-written frame fails to decode and is picked up on the next step.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return
	}
	p.modTime, p.size = info.ModTime(), info.Size()
	p.report(step, 0, data, cfg.Width, cfg.Height, true)
}

func (p *previewFile) remove() {
	_ = os.Remove(p.path)
}
