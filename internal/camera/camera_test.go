package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/gazebo"
)

func solidFrame(w, h int, format PixelFormat) Frame {
	ch := format.channels()
	data := make([]byte, w*h*ch)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return Frame{Width: w, Height: h, Format: format, Data: data}
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog("/overview_camera", "/inspection_camera")

	cams := c.List()
	if len(cams) != 2 || cams[0].ID != "overview" || cams[1].ID != "inspection" {
		t.Fatalf("unexpected catalog %+v", cams)
	}
	cam, err := c.Get("inspection")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cam.Topic != "/inspection_camera" || cam.Name != "Inspection Camera" {
		t.Fatalf("unexpected camera %+v", cam)
	}
	if _, err := c.Get("ceiling"); !errors.Is(err, ErrUnknownCamera) {
		t.Fatalf("expected ErrUnknownCamera, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	content := `cameras:
  - id: side
    topic: /side_camera
    name: Side Camera
  - id: top
    topic: /top_camera
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	cams := c.List()
	if len(cams) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cams))
	}
	if cams[1].Name != "top" {
		t.Fatalf("expected name to default to id, got %q", cams[1].Name)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Camera{
		{ID: "a", Topic: "/a"},
		{ID: "a", Topic: "/b"},
	})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := NewCatalog(nil); err == nil {
		t.Fatal("expected empty catalog error")
	}
}

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		name  string
		width int
		step  int
		want  PixelFormat
		err   bool
	}{
		{name: "RGB_INT8", width: 4, step: 12, want: FormatRGB},
		{name: "rgba_int8", width: 4, step: 16, want: FormatRGBA},
		{name: "L_INT8", width: 4, step: 4, want: FormatGray},
		{name: "", width: 4, step: 12, want: FormatRGB},
		{name: "", width: 4, step: 4, want: FormatGray},
		{name: "R_FLOAT32", width: 4, step: 16, err: true},
		{name: "", width: 0, step: 0, err: true},
	}
	for _, tt := range tests {
		got, err := ParsePixelFormat(tt.name, tt.width, tt.step)
		if tt.err {
			if err == nil {
				t.Errorf("%q: expected error", tt.name)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %q, %v want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestFrameRGBConversion(t *testing.T) {
	bgr := Frame{Width: 1, Height: 1, Format: FormatBGR, Data: []byte{1, 2, 3}}
	if got := bgr.RGB(); !bytes.Equal(got, []byte{3, 2, 1}) {
		t.Fatalf("BGR: got %v", got)
	}
	gray := Frame{Width: 2, Height: 1, Format: FormatGray, Data: []byte{7, 9}}
	if got := gray.RGB(); !bytes.Equal(got, []byte{7, 7, 7, 9, 9, 9}) {
		t.Fatalf("gray: got %v", got)
	}
	// Padded rows are skipped.
	padded := Frame{Width: 1, Height: 2, Step: 4, Format: FormatRGB, Data: []byte{1, 2, 3, 0, 4, 5, 6}}
	if got := padded.RGB(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("padded: got %v", got)
	}
}

func TestFrameValidateRejectsOversizedGeometry(t *testing.T) {
	cases := map[string]Frame{
		"huge width and height": {Width: 1 << 32, Height: 1<<31 + 1, Format: FormatGray, Data: make([]byte, 16)},
		"width over limit":      {Width: MaxFrameDimension + 1, Height: 1, Format: FormatGray, Data: make([]byte, 16)},
		"height over limit":     {Width: 1, Height: MaxFrameDimension + 1, Format: FormatGray, Data: make([]byte, 16)},
		"huge stride":           {Width: 1, Height: 2, Step: 1 << 40, Format: FormatGray, Data: make([]byte, 16)},
		"negative stride":       {Width: 1, Height: 1, Step: -1, Format: FormatGray, Data: make([]byte, 16)},
	}
	for name, frame := range cases {
		if err := frame.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if _, err := EncodeJPEG(frame); err == nil {
			t.Fatalf("%s: expected EncodeJPEG error", name)
		}
	}

	edge := solidFrame(MaxFrameDimension, 1, FormatGray)
	if err := edge.Validate(); err != nil {
		t.Fatalf("frame at the size limit: %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	for _, format := range []PixelFormat{FormatRGB, FormatRGBA, FormatGray, FormatBGR} {
		jpg, err := EncodeJPEG(solidFrame(16, 8, format))
		if err != nil {
			t.Fatalf("%s: EncodeJPEG: %v", format, err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpg))
		if err != nil {
			t.Fatalf("%s: decode: %v", format, err)
		}
		if cfg.Width != 16 || cfg.Height != 8 {
			t.Fatalf("%s: unexpected size %dx%d", format, cfg.Width, cfg.Height)
		}
	}

	short := solidFrame(16, 8, FormatRGB)
	short.Data = short.Data[:10]
	if _, err := EncodeJPEG(short); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestHubLatest(t *testing.T) {
	hub := NewHub(DefaultCatalog("/o", "/i"), zerolog.Nop())

	if _, err := hub.Latest("overview"); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
	if _, err := hub.Latest("nope"); !errors.Is(err, ErrUnknownCamera) {
		t.Fatalf("expected ErrUnknownCamera, got %v", err)
	}
	if err := hub.Publish("nope", solidFrame(2, 2, FormatRGB)); !errors.Is(err, ErrUnknownCamera) {
		t.Fatalf("expected ErrUnknownCamera, got %v", err)
	}

	if err := hub.Publish("overview", solidFrame(4, 4, FormatRGB)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := hub.Publish("overview", solidFrame(8, 4, FormatRGB)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	latest, err := hub.Latest("overview")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Seq != 2 || latest.Frame.Width != 8 {
		t.Fatalf("expected newest frame, got seq %d width %d", latest.Seq, latest.Frame.Width)
	}
	if len(latest.JPEG) == 0 {
		t.Fatal("expected encoded JPEG")
	}

	// A bad frame keeps the previous one.
	bad := solidFrame(4, 4, FormatRGB)
	bad.Data = nil
	if err := hub.Publish("overview", bad); err == nil {
		t.Fatal("expected encode error")
	}
	if latest, _ := hub.Latest("overview"); latest.Seq != 2 {
		t.Fatalf("bad frame replaced latest, seq %d", latest.Seq)
	}
	if _, err := hub.Latest("inspection"); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("cameras must not share frames, got %v", err)
	}
}

func TestHubWatch(t *testing.T) {
	hub := NewHub(DefaultCatalog("/o", "/i"), zerolog.Nop())
	if err := hub.Publish("inspection", solidFrame(4, 4, FormatGray)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	stop := errors.New("stop")
	err := hub.Watch(ctx, "inspection", "mjpeg", time.Millisecond, func(l *Latest) error {
		calls++
		if hub.ClientCount("inspection") != 1 {
			t.Errorf("expected 1 client while watching")
		}
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if hub.ClientCount("inspection") != 0 {
		t.Fatal("expected client count to drop after watch ends")
	}

	cancel()
	if err := hub.Watch(ctx, "overview", "mjpeg", time.Millisecond, func(*Latest) error {
		t.Fatal("callback called without a frame")
		return nil
	}); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

func TestMJPEGWriter(t *testing.T) {
	var buf bytes.Buffer
	flushed := 0
	w := NewMJPEGWriter(&buf, func() { flushed++ })

	if err := w.WritePart([]byte("JPEGDATA")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 8\r\n\r\nJPEGDATA\r\n"
	if buf.String() != want {
		t.Fatalf("unexpected part %q", buf.String())
	}
	if flushed != 1 {
		t.Fatalf("expected 1 flush, got %d", flushed)
	}
	if !strings.HasSuffix(MJPEGContentType, "boundary=frame") {
		t.Fatalf("unexpected content type %q", MJPEGContentType)
	}
}

func TestVideoEncoderArgs(t *testing.T) {
	e := NewVideoEncoder("", 30, zerolog.Nop())
	args := strings.Join(e.Args(640, 480), " ")
	for _, part := range []string{"-f rawvideo", "-pix_fmt rgb24", "-s 640x480", "-r 30", "-i -", "-c:v libx264", "-f mpegts -"} {
		if !strings.Contains(args, part) {
			t.Fatalf("args %q missing %q", args, part)
		}
	}
}

func TestVideoEncoderDefaultsInvalidFramerate(t *testing.T) {
	for _, fps := range []float64{0, math.NaN(), math.Inf(1), 1e12} {
		e := NewVideoEncoder("", fps, zerolog.Nop())
		if args := strings.Join(e.Args(2, 2), " "); !strings.Contains(args, "-r 30 ") {
			t.Fatalf("framerate %v: args %q, want default rate", fps, args)
		}
	}
}

func TestNATSSourceSubject(t *testing.T) {
	src := NewNATSSource(nil, "caninspect", zerolog.Nop())
	if got := src.Subject("inspection"); got != "caninspect.frames.inspection" {
		t.Fatalf("subject=%q, want caninspect.frames.inspection", got)
	}
}

func TestFrameFromMsg(t *testing.T) {
	msg := nats.NewMsg("caninspect.frames.overview")
	msg.Header.Set(HeaderWidth, "2")
	msg.Header.Set(HeaderHeight, "1")
	msg.Header.Set(HeaderFormat, "L_INT8")
	msg.Data = []byte{10, 20}

	frame, err := FrameFromMsg(msg)
	if err != nil {
		t.Fatalf("FrameFromMsg: %v", err)
	}
	if frame.Width != 2 || frame.Height != 1 || frame.Format != FormatGray {
		t.Fatalf("unexpected frame %+v", frame)
	}

	msg.Header.Set(HeaderWidth, "4294967296")
	msg.Header.Set(HeaderHeight, "2147483649")
	if _, err := FrameFromMsg(msg); err == nil {
		t.Fatal("expected error for oversized geometry")
	}

	msg.Header.Set(HeaderHeight, "1")
	msg.Header.Del(HeaderWidth)
	if _, err := FrameFromMsg(msg); err == nil {
		t.Fatal("expected error without width")
	}
}

type fakeSubscriber struct {
	mu     sync.Mutex
	topics []string
	image  gazebo.Image
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, topic string, handle func(gazebo.Image)) error {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	handle(f.image)
	<-ctx.Done()
	return nil
}

func TestGazeboSourceFeedsHub(t *testing.T) {
	hub := NewHub(DefaultCatalog("/overview_camera", "/inspection_camera"), zerolog.Nop())
	sub := &fakeSubscriber{image: gazebo.Image{
		Width: 2, Height: 2, Step: 6, PixelFormatType: "RGB_INT8",
		Data: make([]byte, 12),
	}}
	src := NewGazeboSource(sub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = src.Run(ctx, hub)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		_, errO := hub.Latest("overview")
		_, errI := hub.Latest("inspection")
		if errO == nil && errI == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("frames never reached the hub")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.topics) != 2 {
		t.Fatalf("expected 2 subscriptions, got %v", sub.topics)
	}
}
