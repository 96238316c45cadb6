package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// New returns a progress bar writing to w, or nil when total is too small to
// be worth drawing.
func New(w io.Writer, total int, description string) *progressbar.ProgressBar {
	if w == nil || total < 2 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Add increments the progress bar while safely handling errors.
func Add(bar *progressbar.ProgressBar, n int, log *zap.Logger) {
	if bar == nil || n == 0 {
		return
	}

	if err := bar.Add(n); err != nil && log != nil {
		log.Debug("failed to update progress bar", zap.Error(err))
	}
}

// Finish completes the bar if there is one.
func Finish(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
