package peerfile

import (
	"github.com/schollz/progressbar/v3"
)

// CLIProgress renders download progress to the terminal via a
// schollz/progressbar bar, for use as the ProgressReporter passed to
// Download from an interactive client.
type CLIProgress struct {
	bar *progressbar.ProgressBar
}

// NewCLIProgress builds a CLIProgress bar sized to the expected
// transfer, labeled with the filename being downloaded.
func NewCLIProgress(filename string, filesize int64) *CLIProgress {
	bar := progressbar.NewOptions64(filesize,
		progressbar.OptionSetDescription(filename),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	return &CLIProgress{bar: bar}
}

// Add reports n additional bytes received.
func (p *CLIProgress) Add(n int64) {
	p.bar.Add64(n)
}

// Close finalizes the bar display.
func (p *CLIProgress) Close() {
	p.bar.Finish()
}
