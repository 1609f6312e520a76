package app

import (
	"errors"
	"time"

	"github.com/ayusman/ardetect/internal/capture"
	"github.com/ayusman/ardetect/internal/detector"
)

// runPipeline reads frames at the camera's FPS and feeds them to the
// detector until stop is closed. Paused ticks drop the frame read.
func (a *App) runPipeline(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	fps := a.camera.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			// Follow FPS changes made while running.
			if current := a.camera.FPS(); current > 0 && current != fps {
				fps = current
				ticker.Reset(time.Second / time.Duration(fps))
			}

			frame, err := a.camera.ReadFrame()
			if err != nil {
				if !errors.Is(err, capture.ErrNoFrame) {
					a.logger.Warn().Err(err).Str("event", "app.read_failed").Msg("error reading frame")
				}
				continue
			}

			err = a.helper.Detect(*frame, a.camera.Rotation())
			frame.Close()

			// Engine and setup errors already went through OnError.
			if errors.Is(err, detector.ErrNotReady) {
				a.logger.Debug().Str("event", "app.detector_not_ready").Msg("skipping frame")
			}
		}
	}
}
