package conveyor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/gazebo"
	"github.com/friendsincode/caninspect/internal/telemetry"
)

type spawnCall struct {
	identity string
	variant  string
	pose     gazebo.Pose
}

type poseCall struct {
	identity string
	pose     gazebo.Pose
}

type fakeEngine struct {
	mu       sync.Mutex
	spawns   []spawnCall
	poses    []poseCall
	spawnErr map[string]error
	poseErr  map[string]error
	delay    time.Duration
}

func (f *fakeEngine) Spawn(_ context.Context, identity, variant string, pose gazebo.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = append(f.spawns, spawnCall{identity: identity, variant: variant, pose: pose})
	return f.spawnErr[identity]
}

func (f *fakeEngine) SetPose(_ context.Context, identity string, pose gazebo.Pose) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poses = append(f.poses, poseCall{identity: identity, pose: pose})
	return f.poseErr[identity]
}

func (f *fakeEngine) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = nil
	f.poses = nil
}

func testParams() Params {
	return Params{
		EntryX:         -0.92,
		ExitX:          1.00,
		LateralY:       0,
		Height:         0.54,
		SpawnLift:      0.06,
		PoolSize:       6,
		DefectiveCount: 1,
		Spacing:        0.40,
		Speed:          1.0,
		Interval:       50 * time.Millisecond,
		GoodModel:      "model://can_good",
		DefectiveModel: "model://can_dented",
	}
}

func newTestController(t *testing.T, p Params, engine *fakeEngine) *Controller {
	t.Helper()
	c, err := NewController(p, engine, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInitializeLaysOutPool(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestController(t, testParams(), engine)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []float64{-0.92, -0.52, -0.12, 0.28, 0.68, 1.08}
	snap := c.Snapshot()
	if snap == nil {
		t.Fatal("expected snapshot after Initialize")
	}
	if len(snap.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(snap.Slots))
	}
	for i, slot := range snap.Slots {
		if !near(slot.Position, want[i]) {
			t.Errorf("slot %d: expected position %.2f, got %v", i, want[i], slot.Position)
		}
		wantKind := KindNormal
		if i == 0 {
			wantKind = KindDefective
		}
		if slot.Kind != wantKind {
			t.Errorf("slot %d: expected kind %s, got %s", i, wantKind, slot.Kind)
		}
		if slot.Identity != Identity(i) {
			t.Errorf("slot %d: expected identity %s, got %s", i, Identity(i), slot.Identity)
		}
	}

	if len(engine.spawns) != 6 {
		t.Fatalf("expected 6 spawns, got %d", len(engine.spawns))
	}
	if engine.spawns[0].variant != "model://can_dented" {
		t.Errorf("expected defective variant for slot 0, got %s", engine.spawns[0].variant)
	}
	for _, s := range engine.spawns[1:] {
		if s.variant != "model://can_good" {
			t.Errorf("%s: expected good variant, got %s", s.identity, s.variant)
		}
	}
	if !near(engine.spawns[0].pose.Z, 0.60) {
		t.Errorf("expected spawn height 0.60, got %v", engine.spawns[0].pose.Z)
	}
}

func TestInitializeSpawnFailureIsFatal(t *testing.T) {
	engine := &fakeEngine{spawnErr: map[string]error{"pool_can_02": errors.New("timed out")}}
	c := newTestController(t, testParams(), engine)

	err := c.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	if len(engine.spawns) != 3 {
		t.Fatalf("expected spawning to stop at the failed slot, got %d spawns", len(engine.spawns))
	}
	if c.Snapshot() != nil {
		t.Fatal("expected no snapshot after failed initialization")
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestTickAdvancesAndRecycles(t *testing.T) {
	engine := &fakeEngine{}
	p := testParams()
	p.PoolSize = 2
	c := newTestController(t, p, engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	c.slots[0].Position = 0.95
	c.slots[1].Position = 0.10
	engine.reset()

	// 0.95 + 0.05 lands exactly on the exit and is not recycled.
	report := c.Tick(context.Background())
	if len(report.Recycled) != 0 {
		t.Fatalf("expected no recycling at the exit, got %v", report.Recycled)
	}
	if c.slots[0].Position != 1.00 {
		t.Fatalf("expected slot 0 at 1.00, got %v", c.slots[0].Position)
	}
	if !near(c.slots[1].Position, 0.15) {
		t.Fatalf("expected slot 1 at 0.15, got %v", c.slots[1].Position)
	}

	report = c.Tick(context.Background())
	if len(report.Recycled) != 1 || report.Recycled[0] != "pool_can_00" {
		t.Fatalf("expected pool_can_00 recycled, got %v", report.Recycled)
	}
	if c.slots[0].Position != p.EntryX {
		t.Fatalf("expected slot 0 at entry, got %v", c.slots[0].Position)
	}
	if c.slots[0].Kind != KindDefective {
		t.Fatal("recycling must not change the slot kind")
	}

	// The pose sent for a recycled slot is the entry position.
	last := engine.poses[len(engine.poses)-2]
	if last.identity != "pool_can_00" || last.pose.X != p.EntryX {
		t.Fatalf("expected entry pose for recycled slot, got %+v", last)
	}
	if report.Tick != 2 || report.Updated != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestTickSendsPosesInPoolOrder(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestController(t, testParams(), engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	engine.reset()

	c.Tick(context.Background())
	if len(engine.poses) != 6 {
		t.Fatalf("expected 6 pose requests, got %d", len(engine.poses))
	}
	for i, call := range engine.poses {
		if call.identity != Identity(i) {
			t.Fatalf("request %d: expected %s, got %s", i, Identity(i), call.identity)
		}
		if call.pose.Z != 0.54 || call.pose.Orientation != gazebo.Identity {
			t.Fatalf("request %d: unexpected pose %+v", i, call.pose)
		}
	}
}

func TestPoseFailureDoesNotStopTick(t *testing.T) {
	engine := &fakeEngine{poseErr: map[string]error{"pool_can_01": gazebo.ErrRejected}}
	c := newTestController(t, testParams(), engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	engine.reset()

	report := c.Tick(context.Background())
	if len(engine.poses) != 6 {
		t.Fatalf("expected all 6 slots attempted, got %d", len(engine.poses))
	}
	if report.Updated != 5 {
		t.Fatalf("expected 5 successful updates, got %d", report.Updated)
	}
	if len(report.Failures) != 1 || report.Failures[0].Identity != "pool_can_01" {
		t.Fatalf("unexpected failures %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, gazebo.ErrRejected) {
		t.Fatalf("expected wrapped rejection, got %v", report.Failures[0].Err)
	}

	// The failed slot still advanced.
	if !near(c.slots[1].Position, -0.52+0.05) {
		t.Fatalf("expected failed slot to advance, got %v", c.slots[1].Position)
	}
}

func TestPositionsStayOnBelt(t *testing.T) {
	engine := &fakeEngine{}
	p := testParams()
	p.PoolSize = 5
	c := newTestController(t, p, engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for i := 0; i < 500; i++ {
		c.Tick(context.Background())
		for _, slot := range c.slots {
			if slot.Position < p.EntryX || slot.Position > p.ExitX {
				t.Fatalf("tick %d: %s out of bounds at %v", i+1, slot.Identity, slot.Position)
			}
		}
	}

	defective := 0
	for _, slot := range c.Snapshot().Slots {
		if slot.Kind == KindDefective {
			defective++
		}
	}
	if defective != 1 {
		t.Fatalf("expected 1 defective slot after recycling, got %d", defective)
	}
}

func TestTickPublishesEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventSlotRecycled)
	defer bus.Unsubscribe(events.EventSlotRecycled, sub)

	engine := &fakeEngine{}
	p := testParams()
	c, err := NewController(p, engine, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// pool_can_05 starts at 1.08, past the exit.
	c.Tick(context.Background())

	select {
	case payload := <-sub:
		if payload["slot"] != "pool_can_05" {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected recycle event")
	}
}

func TestTickReportsOverrun(t *testing.T) {
	engine := &fakeEngine{}
	p := testParams()
	p.PoolSize = 2
	p.DefectiveCount = 0
	p.Interval = time.Millisecond
	c := newTestController(t, p, engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	engine.delay = 5 * time.Millisecond
	before := testutil.ToFloat64(telemetry.ConveyorTickOverrunsTotal)
	report := c.Tick(context.Background())
	if !report.Overran || report.Duration <= p.Interval {
		t.Fatalf("expected overrun, got duration=%s overran=%v", report.Duration, report.Overran)
	}
	if got := testutil.ToFloat64(telemetry.ConveyorTickOverrunsTotal) - before; got != 1 {
		t.Fatalf("overrun counter delta=%v, want 1", got)
	}

	engine.delay = 0
	p.Interval = time.Hour
	fast := newTestController(t, p, engine)
	if err := fast.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if report := fast.Tick(context.Background()); report.Overran {
		t.Fatalf("unexpected overrun in %s", report.Duration)
	}
}

func TestNewControllerRejectsInvalidParams(t *testing.T) {
	cases := map[string]func(*Params){
		"zero interval":      func(p *Params) { p.Interval = 0 },
		"negative interval":  func(p *Params) { p.Interval = -time.Millisecond },
		"zero speed":         func(p *Params) { p.Speed = 0 },
		"empty pool":         func(p *Params) { p.PoolSize = 0 },
		"all defective":      func(p *Params) { p.DefectiveCount = 6 },
		"negative defective": func(p *Params) { p.DefectiveCount = -1 },
		"zero spacing":       func(p *Params) { p.Spacing = 0 },
		"exit before entry":  func(p *Params) { p.ExitX = p.EntryX },
		"missing model":      func(p *Params) { p.GoodModel = "" },
		"NaN speed":          func(p *Params) { p.Speed = math.NaN() },
		"infinite speed":     func(p *Params) { p.Speed = math.Inf(1) },
		"NaN spacing":        func(p *Params) { p.Spacing = math.NaN() },
		"infinite exit":      func(p *Params) { p.ExitX = math.Inf(1) },
		"infinite entry":     func(p *Params) { p.EntryX = math.Inf(-1) },
		"NaN lateral":        func(p *Params) { p.LateralY = math.NaN() },
		"NaN height":         func(p *Params) { p.Height = math.NaN() },
		"infinite lift":      func(p *Params) { p.SpawnLift = math.Inf(1) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testParams()
			mutate(&p)
			if _, err := NewController(p, &fakeEngine{}, nil, zerolog.Nop()); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
		})
	}

	if _, err := NewController(testParams(), nil, nil, zerolog.Nop()); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for nil engine, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	engine := &fakeEngine{}
	p := testParams()
	p.Interval = 5 * time.Millisecond
	c := newTestController(t, p, engine)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if snap := c.Snapshot(); snap != nil && snap.Tick >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("conveyor did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
