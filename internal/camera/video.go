/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/config"
)

// VideoContentType is the content type of encoded video streams.
const VideoContentType = "video/mp2t"

var errGeometryChanged = errors.New("frame size changed")

// VideoEncoder pipes raw RGB frames into ffmpeg and streams H.264 in MPEG-TS.
type VideoEncoder struct {
	bin       string
	framerate float64
	logger    zerolog.Logger
}

// NewVideoEncoder creates an encoder using the given ffmpeg binary. Rates
// outside (0, config.MaxFramerate] fall back to config.DefaultFramerate.
func NewVideoEncoder(bin string, framerate float64, logger zerolog.Logger) *VideoEncoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if !config.ValidFramerate(framerate) {
		framerate = config.DefaultFramerate
	}
	return &VideoEncoder{
		bin:       bin,
		framerate: framerate,
		logger:    logger.With().Str("component", "video").Logger(),
	}
}

// Args returns the ffmpeg arguments for a width x height input.
func (e *VideoEncoder) Args(width, height int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(e.framerate, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-f", "mpegts",
		"-",
	}
}

// Stream encodes the camera's frames into out until ctx ends, the client goes
// away or the frame size changes. The encoder starts with the first frame.
func (e *VideoEncoder) Stream(ctx context.Context, hub *Hub, cameraID string, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		cmd    *exec.Cmd
		stdin  io.WriteCloser
		width  int
		height int
	)

	delay := config.FrameDelay(e.framerate)
	err := hub.Watch(ctx, cameraID, "video", delay, func(l *Latest) error {
		if cmd == nil {
			width, height = l.Frame.Width, l.Frame.Height
			cmd = exec.CommandContext(ctx, e.bin, e.Args(width, height)...)
			cmd.Stdout = out
			pipe, err := cmd.StdinPipe()
			if err != nil {
				return fmt.Errorf("ffmpeg stdin: %w", err)
			}
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("start ffmpeg: %w", err)
			}
			stdin = pipe
			e.logger.Info().Str("camera", cameraID).Int("width", width).Int("height", height).Msg("encoder started")
		}
		if l.Frame.Width != width || l.Frame.Height != height {
			return errGeometryChanged
		}
		if _, err := stdin.Write(l.Frame.RGB()); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		return nil
	})

	if cmd != nil {
		_ = stdin.Close()
		cancel()
		_ = cmd.Wait()
		e.logger.Info().Str("camera", cameraID).Msg("encoder stopped")
	}
	if errors.Is(err, errGeometryChanged) {
		e.logger.Warn().Str("camera", cameraID).Msg("frame size changed, ending video stream")
		return nil
	}
	return err
}
