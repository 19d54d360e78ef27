/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package camera

import (
	"fmt"
	"io"
)

// MJPEGBoundary separates the parts of an MJPEG stream.
const MJPEGBoundary = "frame"

// MJPEGContentType is the response content type of an MJPEG stream.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary

// MJPEGWriter writes JPEG images as parts of a multipart/x-mixed-replace body.
type MJPEGWriter struct {
	w     io.Writer
	flush func()
}

// NewMJPEGWriter wraps w. flush, if set, is called after every part.
func NewMJPEGWriter(w io.Writer, flush func()) *MJPEGWriter {
	return &MJPEGWriter{w: w, flush: flush}
}

// WritePart writes one JPEG part.
func (m *MJPEGWriter) WritePart(jpg []byte) error {
	if _, err := fmt.Fprintf(m.w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", MJPEGBoundary, len(jpg)); err != nil {
		return err
	}
	if _, err := m.w.Write(jpg); err != nil {
		return err
	}
	if _, err := io.WriteString(m.w, "\r\n"); err != nil {
		return err
	}
	if m.flush != nil {
		m.flush()
	}
	return nil
}
