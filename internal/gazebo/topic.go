/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gazebo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Image is the subset of gz.msgs.Image the viewer needs. gz topic
// --json-output prints protobuf JSON, so field names are lowerCamelCase and
// bytes are base64, which encoding/json decodes into Data directly.
type Image struct {
	Width           uint32 `json:"width"`
	Height          uint32 `json:"height"`
	Step            uint32 `json:"step"`
	PixelFormatType string `json:"pixelFormatType"`
	Data            []byte `json:"data"`
}

// Subscribe echoes an image topic and calls handle for every message until
// ctx is cancelled or the echo process exits. Malformed messages end the
// subscription since the JSON stream cannot be resynchronized.
func (c *Client) Subscribe(ctx context.Context, topic string, handle func(Image)) error {
	stream, err := c.runner.Stream(ctx, c.bin, "topic", "-e", "-t", topic, "--json-output")
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer stream.Close()

	// Closing the stream unblocks the decoder when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	c.logger.Info().Str("topic", topic).Msg("subscribed")

	dec := json.NewDecoder(stream)
	for {
		var img Image
		if err := dec.Decode(&img); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("subscribe %s: echo process exited", topic)
			}
			return fmt.Errorf("subscribe %s: decode: %w", topic, err)
		}
		handle(img)
	}
}
