/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package camera keeps the latest frame of every simulated camera and turns
// it into JPEG snapshots, MJPEG streams and H.264 video.
package camera

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownCamera is returned for a camera id missing from the catalog.
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrNoFrame is returned when a camera has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
)

// Camera describes one image topic exposed by the viewer.
type Camera struct {
	ID          string `yaml:"id" json:"id"`
	Topic       string `yaml:"topic" json:"topic"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Catalog is the ordered list of cameras.
type Catalog struct {
	cameras []Camera
	byID    map[string]int
}

// NewCatalog builds a catalog, rejecting blank or duplicate ids and topics.
func NewCatalog(cameras []Camera) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(cameras))}
	for _, cam := range cameras {
		if cam.ID == "" || cam.Topic == "" {
			return nil, fmt.Errorf("camera %q: id and topic are required", cam.Name)
		}
		if _, dup := c.byID[cam.ID]; dup {
			return nil, fmt.Errorf("camera %q listed twice", cam.ID)
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		c.byID[cam.ID] = len(c.cameras)
		c.cameras = append(c.cameras, cam)
	}
	if len(c.cameras) == 0 {
		return nil, errors.New("camera catalog is empty")
	}
	return c, nil
}

// DefaultCatalog returns the overview and inspection cameras of the work cell.
func DefaultCatalog(overviewTopic, inspectionTopic string) *Catalog {
	c, _ := NewCatalog([]Camera{
		{
			ID:          "overview",
			Topic:       overviewTopic,
			Name:        "Overview Camera",
			Description: "Elevated view of the entire work cell",
		},
		{
			ID:          "inspection",
			Topic:       inspectionTopic,
			Name:        "Inspection Camera",
			Description: "Overhead view for defect detection (640x480)",
		},
	})
	return c
}

type catalogFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// LoadCatalog reads a YAML catalog:
//
//	cameras:
//	  - id: overview
//	    topic: /overview_camera
//	    name: Overview Camera
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camera catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse camera catalog %s: %w", path, err)
	}
	c, err := NewCatalog(f.Cameras)
	if err != nil {
		return nil, fmt.Errorf("camera catalog %s: %w", path, err)
	}
	return c, nil
}

// Get returns the camera with the given id.
func (c *Catalog) Get(id string) (Camera, error) {
	i, ok := c.byID[id]
	if !ok {
		return Camera{}, fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	return c.cameras[i], nil
}

// List returns the cameras in catalog order.
func (c *Catalog) List() []Camera {
	out := make([]Camera, len(c.cameras))
	copy(out, c.cameras)
	return out
}
