// Package chart renders a field's index series as a PNG.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/lox/cropwatch/internal/models"
)

const (
	Width  = 800
	Height = 300

	plotLeft   = 50
	plotRight  = Width - 20
	plotTop    = 50
	plotBottom = Height - 30
)

var (
	background = color.RGBA{250, 250, 247, 255}
	gridColor  = color.RGBA{225, 225, 220, 255}
	textColor  = color.RGBA{40, 40, 40, 255}
	mutedText  = color.RGBA{120, 120, 120, 255}
	NDVIColor  = color.RGBA{46, 139, 87, 255}
	NDWIColor  = color.RGBA{30, 100, 200, 255}
	alertColor = color.RGBA{210, 40, 40, 255}
)

// Render draws NDVI and NDWI against a fixed 0..1 axis with a header line
// summarising trend, stage and water stress. The latest observation is
// marked when the result has hotspots.
func Render(title string, r *models.TimeSeriesResult) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawText(img, title, 12, 20, textColor, face)
	drawText(img, fmt.Sprintf("%s to %s", r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02")), Width-180, 20, mutedText, face)
	drawText(img, fmt.Sprintf("trend %s  stage %s  water stress %s", r.Trends.OverallTrend, r.GrowthStage, r.WaterStress.StressLevel), 12, 38, mutedText, face)

	for _, v := range []float64{0, 0.25, 0.5, 0.75, 1} {
		y := yFor(v)
		fillRect(img, image.Rect(plotLeft, y, plotRight, y+1), gridColor)
		drawText(img, fmt.Sprintf("%.2f", v), 10, y+4, mutedText, face)
	}

	if len(r.Series) == 0 {
		drawText(img, "no observations", (plotLeft+plotRight)/2-52, (plotTop+plotBottom)/2, mutedText, face)
		return encode(img)
	}

	ndvi := make([]float64, len(r.Series))
	ndwi := make([]float64, len(r.Series))
	for i, o := range r.Series {
		ndvi[i], ndwi[i] = o.NDVI, o.NDWI
	}
	xs := xPositions(r.Series)
	drawPolyline(img, xs, ndwi, NDWIColor)
	drawPolyline(img, xs, ndvi, NDVIColor)

	if len(r.Hotspots) > 0 {
		last := len(xs) - 1
		x, y := int(xs[last]), yFor(ndvi[last])
		fillRect(img, image.Rect(x-5, y-5, x+6, y+6), alertColor)
	}

	drawText(img, r.Series[0].Date.Format("2 Jan"), plotLeft, Height-10, mutedText, face)
	lastLabel := r.Series[len(r.Series)-1].Date.Format("2 Jan")
	drawText(img, lastLabel, plotRight-len(lastLabel)*7, Height-10, mutedText, face)
	drawText(img, "NDVI", plotRight-90, plotTop-4, NDVIColor, face)
	drawText(img, "NDWI", plotRight-45, plotTop-4, NDWIColor, face)

	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func yFor(v float64) int {
	v = math.Max(0, math.Min(1, v))
	return plotBottom - int(math.Round(v*float64(plotBottom-plotTop)))
}

// xPositions places observations by date so uneven revisit gaps show.
func xPositions(series []models.Observation) []float32 {
	xs := make([]float32, len(series))
	first, last := series[0].Date, series[len(series)-1].Date
	span := last.Sub(first)
	for i, o := range series {
		frac := 0.5
		if span > 0 {
			frac = float64(o.Date.Sub(first)) / float64(span)
		}
		xs[i] = float32(plotLeft + frac*float64(plotRight-plotLeft))
	}
	return xs
}

// drawPolyline strokes the series two pixels wide by filling a quad per segment.
func drawPolyline(img *image.RGBA, xs []float32, values []float64, col color.Color) {
	z := vector.NewRasterizer(Width, Height)
	const half = 1.0
	if len(xs) == 1 {
		x, y := xs[0], float32(yFor(values[0]))
		z.MoveTo(x-2, y-2)
		z.LineTo(x+2, y-2)
		z.LineTo(x+2, y+2)
		z.LineTo(x-2, y+2)
		z.ClosePath()
	}
	for i := 1; i < len(xs); i++ {
		x0, y0 := xs[i-1], float32(yFor(values[i-1]))
		x1, y1 := xs[i], float32(yFor(values[i]))
		dx, dy := x1-x0, y1-y0
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half
		z.MoveTo(x0+nx, y0+ny)
		z.LineTo(x1+nx, y1+ny)
		z.LineTo(x1-nx, y1-ny)
		z.LineTo(x0-nx, y0-ny)
		z.ClosePath()
	}
	z.Draw(img, img.Bounds(), image.NewUniform(col), image.Point{})
}

func fillRect(img *image.RGBA, r image.Rectangle, col color.Color) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// Cache holds rendered charts per field for a short period.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	key       string
	data      []byte
	expiresAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{entries: make(map[string]cacheEntry), ttl: ttl}
}

// Get returns the chart for fieldID if it was rendered for the same key and
// has not expired.
func (c *Cache) Get(fieldID, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[fieldID]
	if !ok || e.key != key || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

func (c *Cache) Set(fieldID, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fieldID] = cacheEntry{key: key, data: data, expiresAt: time.Now().Add(c.ttl)}
}
