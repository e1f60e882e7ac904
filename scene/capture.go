// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-foundation/atelier-bridge/lib/clock"
	"github.com/atelier-foundation/atelier-bridge/lib/codec"
)

// indexFileName is the CBOR history index inside the capture directory.
const indexFileName = "index.cbor"

// Capture is one persisted viewport render.
type Capture struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	TakenAt time.Time `json:"taken_at"`
}

// CaptureStore keeps a bounded history of viewport captures on disk:
// one PNG per capture plus a CBOR index. When the history exceeds its
// limit the oldest capture's file is deleted along with its record.
//
// Like the engine, the store is tick-confined and carries no locks.
type CaptureStore struct {
	directory string
	limit     int
	clock     clock.Clock
	logger    *slog.Logger
	captures  []Capture
}

// NewCaptureStore opens (creating if needed) the capture directory and
// loads any existing history index. A limit below 1 is raised to 1; a
// nil clock means wall time; a nil logger discards. An unreadable index
// is logged and treated as empty — the index is derived state, rebuilt
// on the next capture.
func NewCaptureStore(directory string, limit int, clk clock.Clock, logger *slog.Logger) (*CaptureStore, error) {
	if directory == "" {
		return nil, errors.New("scene: capture directory is required")
	}
	if limit < 1 {
		limit = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}

	store := &CaptureStore{
		directory: directory,
		limit:     limit,
		clock:     clk,
		logger:    logger,
	}
	if err := store.readIndex(); err != nil {
		store.logger.Warn("capture index unreadable, starting with empty history",
			"path", store.indexPath(), "error", err)
		store.captures = nil
	}
	return store, nil
}

// Capture renders the scene top-down, writes the PNG, appends a record
// to the history (evicting the oldest beyond the limit), and rewrites
// the index. maxSize bounds the longer image dimension in pixels.
func (s *CaptureStore) Capture(engine *Engine, maxSize int) (Capture, error) {
	canvas := renderTopDown(engine, maxSize)

	now := s.clock.Now()
	record := Capture{
		ID:      uuid.NewString(),
		Width:   canvas.Bounds().Dx(),
		Height:  canvas.Bounds().Dy(),
		TakenAt: now.UTC(),
	}
	record.Path = filepath.Join(s.directory,
		fmt.Sprintf("capture_%d_%s.png", now.UnixMilli(), record.ID[:8]))

	if err := writePNG(record.Path, canvas); err != nil {
		return Capture{}, err
	}

	s.captures = append(s.captures, record)
	s.evict()

	if err := s.writeIndex(); err != nil {
		// The capture itself succeeded; the index catches up on the
		// next write.
		s.logger.Warn("capture index write failed, keeping in-memory history", "error", err)
	}
	return record, nil
}

// Records returns the capture history, oldest first.
func (s *CaptureStore) Records() []Capture {
	return slices.Clone(s.captures)
}

// Limit returns the maximum history length.
func (s *CaptureStore) Limit() int { return s.limit }

// Flush rewrites the index, returning any error. Called at shutdown so
// a write failure swallowed during Capture does not go unrepaired.
func (s *CaptureStore) Flush() error {
	return s.writeIndex()
}

func (s *CaptureStore) indexPath() string {
	return filepath.Join(s.directory, indexFileName)
}

func (s *CaptureStore) evict() {
	for len(s.captures) > s.limit {
		oldest := s.captures[0]
		s.captures = s.captures[1:]
		if err := os.Remove(oldest.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("removing evicted capture", "path", oldest.Path, "error", err)
		}
	}
}

func (s *CaptureStore) readIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var captures []Capture
	if err := codec.Unmarshal(data, &captures); err != nil {
		return fmt.Errorf("parsing capture index: %w", err)
	}
	s.captures = captures
	return nil
}

// writeIndex writes the history index atomically: temporary file in the
// same directory, fsync, rename into place, then a best-effort sync of
// the directory so the rename survives power loss. Readers never see a
// partial index.
func (s *CaptureStore) writeIndex() error {
	data, err := codec.Marshal(s.captures)
	if err != nil {
		return fmt.Errorf("encoding capture index: %w", err)
	}

	path := s.indexPath()
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary capture index: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary capture index: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary capture index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary capture index: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming capture index into place: %w", err)
	}

	if parentDirectory, err := os.Open(s.directory); err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// --- rendering ---

const (
	minRenderSize = 16
	renderMargin  = 0.10
)

var (
	captureBackground = color.RGBA{28, 28, 34, 255}

	capturePalette = []color.RGBA{
		{231, 111, 81, 255},
		{244, 162, 97, 255},
		{233, 196, 106, 255},
		{138, 177, 125, 255},
		{42, 157, 143, 255},
		{84, 130, 171, 255},
		{156, 102, 171, 255},
		{201, 91, 121, 255},
	}
)

// renderTopDown draws an orthographic top-down view of the visible mesh
// objects: each world bounding box becomes a filled rectangle in the XY
// plane, colored deterministically by object name. The canvas is scaled
// so the scene extent (plus margin) fits maxSize on its longer side. An
// empty scene renders as a bare 4:3 background.
func renderTopDown(engine *Engine, maxSize int) *image.RGBA {
	if maxSize < minRenderSize {
		maxSize = minRenderSize
	}

	type footprint struct {
		minX, minY, maxX, maxY float64
		fill                   color.RGBA
	}
	var footprints []footprint
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for _, object := range engine.Objects() {
		if !object.Visible {
			continue
		}
		box, err := object.WorldBoundingBox()
		if err != nil {
			// Cameras, lights, and empties have no footprint.
			continue
		}
		fp := footprint{
			minX: box[0][0], minY: box[0][1],
			maxX: box[1][0], maxY: box[1][1],
			fill: fillColorFor(object.Name),
		}
		footprints = append(footprints, fp)
		minX = math.Min(minX, fp.minX)
		minY = math.Min(minY, fp.minY)
		maxX = math.Max(maxX, fp.maxX)
		maxY = math.Max(maxY, fp.maxY)
	}

	if len(footprints) == 0 {
		return blankCanvas(maxSize, max(maxSize*3/4, minRenderSize))
	}

	padX := math.Max((maxX-minX)*renderMargin, 0.5)
	padY := math.Max((maxY-minY)*renderMargin, 0.5)
	minX -= padX
	maxX += padX
	minY -= padY
	maxY += padY
	extentX := maxX - minX
	extentY := maxY - minY

	var width, height int
	if extentX >= extentY {
		width = maxSize
		height = int(math.Round(float64(maxSize) * extentY / extentX))
	} else {
		height = maxSize
		width = int(math.Round(float64(maxSize) * extentX / extentY))
	}
	width = max(width, minRenderSize)
	height = max(height, minRenderSize)

	canvas := blankCanvas(width, height)
	scaleX := float64(width) / extentX
	scaleY := float64(height) / extentY
	for _, fp := range footprints {
		x0 := int(math.Floor((fp.minX - minX) * scaleX))
		x1 := int(math.Ceil((fp.maxX - minX) * scaleX))
		// Scene +Y points up; image Y grows downward.
		y0 := height - int(math.Ceil((fp.maxY-minY)*scaleY))
		y1 := height - int(math.Floor((fp.minY-minY)*scaleY))
		fillRect(canvas, x0, y0, x1, y1, fp.fill)
	}
	return canvas
}

func blankCanvas(width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			canvas.SetRGBA(x, y, captureBackground)
		}
	}
	return canvas
}

// fillRect fills [x0,x1)×[y0,y1) clamped to the canvas, with a one-pixel
// darker border. Degenerate rectangles are widened to a single pixel so
// paper-thin objects (planes seen edge-on) stay visible.
func fillRect(canvas *image.RGBA, x0, y0, x1, y1 int, fill color.RGBA) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	bounds := canvas.Bounds()
	x0 = max(x0, bounds.Min.X)
	y0 = max(y0, bounds.Min.Y)
	x1 = min(x1, bounds.Max.X)
	y1 = min(y1, bounds.Max.Y)

	border := color.RGBA{fill.R / 2, fill.G / 2, fill.B / 2, 255}
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			pixel := fill
			if x == x0 || x == x1-1 || y == y0 || y == y1-1 {
				pixel = border
			}
			canvas.SetRGBA(x, y, pixel)
		}
	}
}

func fillColorFor(name string) color.RGBA {
	hash := fnv.New32a()
	hash.Write([]byte(name))
	return capturePalette[hash.Sum32()%uint32(len(capturePalette))]
}

func writePNG(path string, canvas *image.RGBA) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating capture file: %w", err)
	}
	if err := png.Encode(file, canvas); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("encoding capture: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing capture file: %w", err)
	}
	return nil
}
