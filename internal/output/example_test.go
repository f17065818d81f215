package output_test

import (
	"fmt"
	"time"

	"github.com/blackwell-systems/labelforge/internal/output"
	"github.com/blackwell-systems/labelforge/internal/store"
)

// Example showing how to render a run-history table
func ExampleRenderRunTable() {
	runs := []*store.Run{
		{
			Label:         "firefox",
			DisplayName:   "Firefox",
			ActualVersion: "128.0",
			Status:        store.RunStatusSucceeded,
			Message:       "Firefox 128.0 uploaded to Intune.",
			StartedAt:     time.Now().Add(-5 * time.Minute),
		},
		{
			Label:         "vlc",
			DisplayName:   "VLC",
			ActualVersion: "3.0.21",
			Status:        store.RunStatusUpToDate,
			Message:       "VLC 3.0.21 already exists in Intune.",
			StartedAt:     time.Now().Add(-2 * time.Hour),
		},
	}

	table := output.RenderRunTable(runs)
	fmt.Println(table)
}

// Example showing how to use a progress bar
func ExampleProgressBar() {
	// Create a progress bar for 100 items
	progress := output.NewProgress(100, "Processing labels")

	// Simulate processing
	for i := 0; i < 100; i++ {
		// Do some work...
		progress.Increment()
	}

	// Mark as complete
	progress.Finish()
}

// Example showing how to use a spinner
func ExampleSpinner() {
	// Create and start a spinner
	spinner := output.NewSpinner("Waiting for Intune to confirm the upload")

	// Simulate some work
	time.Sleep(2 * time.Second)

	// Stop the spinner
	spinner.Stop()
	fmt.Println("Upload confirmed!")
}

// Example showing how to track a download with humanized byte counts
func ExampleByteProgress() {
	progress := output.NewByteProgress("Firefox.dmg")

	// Wire directly into the downloader's progress callback.
	onProgress := progress.Update

	onProgress(12*1024*1024, 48*1024*1024)
	progress.Finish()
}
