/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/storage"
)

// Labels of the two training classes.
const (
	LabelPass = "PASS"
	LabelFail = "FAIL"
)

// AnnotationsFile is the object name of the dataset index.
const AnnotationsFile = "annotations.json"

// Geometry is the overhead inspection camera and can setup used to project a
// can position on the belt into image coordinates. The camera looks straight
// down; image +X runs along world -Y and image +Y along world -X.
type Geometry struct {
	SensorX float64 // World position of the image sensor, not the camera model
	SensorY float64
	SensorZ float64
	HFOV    float64 // Horizontal field of view in radians

	ImageWidth  int
	ImageHeight int

	CanRadius float64
	CanHeight float64
	CanZ      float64 // Height of the can center when standing on the belt
	Margin    float64 // Scale applied to the can radius for the box
}

// DefaultGeometry matches the inspection camera of the work cell: the model
// sits at (0, 0, 0.88) pitched down, and its sensor offset of -0.04 along the
// model's local Z lands on world X after the pitch.
func DefaultGeometry() Geometry {
	return Geometry{
		SensorX:     -0.04,
		SensorY:     0,
		SensorZ:     0.88,
		HFOV:        1.047,
		ImageWidth:  640,
		ImageHeight: 480,
		CanRadius:   0.033,
		CanHeight:   0.12,
		CanZ:        0.54,
		Margin:      1.15,
	}
}

// Validate rejects geometry that cannot project a can into the image.
func (g Geometry) Validate() error {
	for _, v := range []float64{g.SensorX, g.SensorY, g.SensorZ, g.HFOV, g.CanRadius, g.CanHeight, g.CanZ, g.Margin} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("camera geometry must be finite")
		}
	}
	switch {
	case g.ImageWidth <= 0 || g.ImageHeight <= 0:
		return fmt.Errorf("invalid image size %dx%d", g.ImageWidth, g.ImageHeight)
	case g.HFOV <= 0 || g.HFOV >= math.Pi:
		return fmt.Errorf("field of view %g out of range", g.HFOV)
	case g.CanRadius <= 0 || g.Margin <= 0:
		return fmt.Errorf("can radius and margin must be positive")
	case g.Distance() <= 0:
		return fmt.Errorf("camera at %g is not above the can top at %g", g.SensorZ, g.CanZ+g.CanHeight/2)
	}
	return nil
}

// Distance is the gap between the sensor and the top of a standing can.
func (g Geometry) Distance() float64 {
	return g.SensorZ - (g.CanZ + g.CanHeight/2)
}

// PixelsPerMeter is the image scale at the height of the can top.
func (g Geometry) PixelsPerMeter() float64 {
	viewWidth := 2 * g.Distance() * math.Tan(g.HFOV/2)
	return float64(g.ImageWidth) / viewWidth
}

// BoundingBox is an axis aligned box in normalized image coordinates.
type BoundingBox struct {
	XMin float64 `json:"x_min_normalized"`
	XMax float64 `json:"x_max_normalized"`
	YMin float64 `json:"y_min_normalized"`
	YMax float64 `json:"y_max_normalized"`
}

// Visible reports whether any part of the box lies inside the image.
func (b BoundingBox) Visible() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// BoundingBox returns the box around a can standing at world (x, y), clamped
// to the image.
func (g Geometry) BoundingBox(x, y float64) BoundingBox {
	ppm := g.PixelsPerMeter()
	w, h := float64(g.ImageWidth), float64(g.ImageHeight)

	cx := w/2 - (y-g.SensorY)*ppm
	cy := h/2 - (x-g.SensorX)*ppm
	r := g.CanRadius * ppm * g.Margin

	return BoundingBox{
		XMin: clamp(cx-r, w) / w,
		XMax: clamp(cx+r, w) / w,
		YMin: clamp(cy-r, h) / h,
		YMax: clamp(cy+r, h) / h,
	}
}

func clamp(v, limit float64) float64 {
	return math.Min(math.Max(v, 0), limit)
}

// Annotation is one labeled image of a training set.
type Annotation struct {
	Filename string      `json:"filename"`
	Label    string      `json:"label"`
	BBox     BoundingBox `json:"bbox"`
	XOffset  float64     `json:"x_offset"`
	YOffset  float64     `json:"y_offset"`
	Yaw      float64     `json:"yaw"`
	Location string      `json:"location"`
}

// Dataset writes labeled JPEGs and their annotation index under one prefix
// of an object store.
type Dataset struct {
	store  storage.ObjectStore
	prefix string
	logger zerolog.Logger

	mu          sync.Mutex
	annotations []Annotation
}

// NewDataset creates an empty dataset rooted at prefix.
func NewDataset(store storage.ObjectStore, prefix string, logger zerolog.Logger) *Dataset {
	return &Dataset{
		store:  store,
		prefix: prefix,
		logger: logger.With().Str("component", "dataset").Str("prefix", prefix).Logger(),
	}
}

// SampleFilename names the i-th image of a class, e.g. PASS_007.jpg.
func SampleFilename(label string, i int) string {
	return fmt.Sprintf("%s_%03d.jpg", label, i)
}

// Key returns the object key of a file in the dataset.
func (d *Dataset) Key(filename string) string {
	return path.Join(d.prefix, filename)
}

// Add stores jpeg and records its annotation. a.Location is filled in.
func (d *Dataset) Add(ctx context.Context, a Annotation, jpeg []byte) (Annotation, error) {
	if len(jpeg) == 0 {
		return Annotation{}, fmt.Errorf("sample %s: empty image", a.Filename)
	}
	key := d.Key(a.Filename)
	if err := d.store.Put(ctx, key, jpeg, "image/jpeg"); err != nil {
		return Annotation{}, fmt.Errorf("sample %s: %w", a.Filename, err)
	}
	a.Location = d.store.Location(key)

	d.mu.Lock()
	d.annotations = append(d.annotations, a)
	d.mu.Unlock()
	return a, nil
}

// Annotations returns the recorded samples in insertion order.
func (d *Dataset) Annotations() []Annotation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Annotation, len(d.annotations))
	copy(out, d.annotations)
	return out
}

// Count returns the number of samples recorded for label.
func (d *Dataset) Count(label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, a := range d.annotations {
		if a.Label == label {
			n++
		}
	}
	return n
}

// WriteIndex stores annotations.json next to the images and returns its key.
func (d *Dataset) WriteIndex(ctx context.Context) (string, error) {
	annotations := d.Annotations()
	data, err := json.MarshalIndent(annotations, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode annotations: %w", err)
	}
	key := d.Key(AnnotationsFile)
	if err := d.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("write annotations: %w", err)
	}
	d.logger.Info().Int("samples", len(annotations)).Str("key", key).Msg("annotations written")
	return key, nil
}
