/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gazebo talks to a running Gazebo simulation through the gz command
// line transport tools.
package gazebo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrRejected is returned when the engine answers a service call with false.
var ErrRejected = errors.New("engine rejected request")

const processGrace = 5 * time.Second

// Options configures a Client.
type Options struct {
	Bin          string // gz executable
	World        string
	PoseTimeout  time.Duration
	SpawnTimeout time.Duration
	Runner       Runner
}

// Client issues world services (create, remove, set_pose, control) and topic
// subscriptions for one world.
type Client struct {
	bin          string
	world        string
	poseTimeout  time.Duration
	spawnTimeout time.Duration
	runner       Runner
	logger       zerolog.Logger
}

// NewClient creates a client for the named world.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Bin == "" {
		opts.Bin = "gz"
	}
	if opts.PoseTimeout <= 0 {
		opts.PoseTimeout = 100 * time.Millisecond
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = 5 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Client{
		bin:          opts.Bin,
		world:        opts.World,
		poseTimeout:  opts.PoseTimeout,
		spawnTimeout: opts.SpawnTimeout,
		runner:       opts.Runner,
		logger:       logger.With().Str("component", "gazebo").Str("world", opts.World).Logger(),
	}
}

// Spawn creates a model from an SDF URI (e.g. model://can_good) under the
// given entity name.
func (c *Client) Spawn(ctx context.Context, identity, variant string, pose Pose) error {
	req := fmt.Sprintf("sdf_filename: %s, name: %s, pose: {%s}",
		strconv.Quote(variant), strconv.Quote(identity), pose.text())
	return c.call(ctx, c.spawnTimeout, "create", "gz.msgs.EntityFactory", req)
}

// Remove deletes a model entity by name.
func (c *Client) Remove(ctx context.Context, identity string) error {
	req := fmt.Sprintf("name: %s, type: MODEL", strconv.Quote(identity))
	return c.call(ctx, c.spawnTimeout, "remove", "gz.msgs.Entity", req)
}

// SetPose teleports an existing entity.
func (c *Client) SetPose(ctx context.Context, identity string, pose Pose) error {
	req := fmt.Sprintf("name: %s, %s", strconv.Quote(identity), pose.text())
	return c.call(ctx, c.poseTimeout, "set_pose", "gz.msgs.Pose", req)
}

// Unpause starts the physics clock of a world loaded paused.
func (c *Client) Unpause(ctx context.Context) error {
	return c.call(ctx, c.spawnTimeout, "control", "gz.msgs.WorldControl", "pause: false")
}

// call runs one gz service request and interprets its gz.msgs.Boolean reply.
// timeout bounds the service round trip; the process itself gets processGrace
// on top for CLI startup.
func (c *Client) call(ctx context.Context, timeout time.Duration, service, reqType, req string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout+processGrace)
	defer cancel()

	args := []string{
		"service",
		"-s", c.servicePath(service),
		"--reqtype", reqType,
		"--reptype", "gz.msgs.Boolean",
		"--timeout", strconv.FormatInt(timeout.Milliseconds(), 10),
		"--req", req,
	}

	out, err := c.runner.Output(ctx, c.bin, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	if !replyTrue(out) {
		return fmt.Errorf("%s: %w: %s", service, ErrRejected, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *Client) servicePath(service string) string {
	return "/world/" + c.world + "/" + service
}

// replyTrue reports whether a gz.msgs.Boolean reply printed by gz service
// carries data: true.
func replyTrue(out []byte) bool {
	return strings.Contains(strings.ToLower(string(out)), "true")
}
