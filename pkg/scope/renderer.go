package scope

import (
	"image/color"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/itohio/usbscale/pkg/calibration"
	"github.com/itohio/usbscale/pkg/sample"
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	traceColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	resetColor = color.RGBA{R: 0, G: 100, B: 200, A: 255}
)

// trendRenderer renders the trend widget.
type trendRenderer struct {
	trend *TrendWidget

	background *canvas.Rectangle
	objects    []fyne.CanvasObject

	lastSize fyne.Size
}

// plot is the drawing area inside the axis labels.
type plot struct {
	x, y, width, height float32
	yMin, yMax          float64
	xMin, xMax          time.Time
}

func (p plot) pos(ts time.Time, v float64) fyne.Position {
	span := p.xMax.Sub(p.xMin).Seconds()
	x := p.x + float32(ts.Sub(p.xMin).Seconds()/span)*p.width
	y := p.y + p.height - float32((v-p.yMin)/(p.yMax-p.yMin))*p.height
	return fyne.NewPos(x, y)
}

func (r *trendRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 200)
}

func (r *trendRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.trend.BaseWidget.Refresh()
	}
}

func (r *trendRenderer) Refresh() {
	r.trend.mu.RLock()
	points := append([]sample.Point(nil), r.trend.display...)
	resets := append([]time.Time(nil), r.trend.resets...)
	p := plot{
		yMin: r.trend.yMin,
		yMax: r.trend.yMax,
		xMin: r.trend.xMin,
		xMax: r.trend.xMax,
	}
	r.trend.mu.RUnlock()

	size := r.trend.Size()
	r.objects = []fyne.CanvasObject{r.background}
	if size.Width == 0 || size.Height == 0 {
		return
	}

	const (
		marginLeft   = 70
		marginRight  = 20
		marginTop    = 20
		marginBottom = 30
	)
	p.x = marginLeft
	p.y = marginTop
	p.width = size.Width - marginLeft - marginRight
	p.height = size.Height - marginTop - marginBottom

	r.drawGrid(p)
	r.drawResets(p, resets)
	r.drawTrace(p, points)
}

// drawGrid draws the grid with value and elapsed time labels.
func (r *trendRenderer) drawGrid(p plot) {
	const hLines, vLines = 6, 10

	for i := 0; i < hLines+1; i++ {
		y := p.y + float32(i)*p.height/hLines
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.width, y))

		value := p.yMax - float64(i)*(p.yMax-p.yMin)/hLines
		r.text(calibration.Format(calibration.Round(value)), fyne.TextAlignTrailing, fyne.NewPos(p.x-5, y-6))
	}

	span := p.xMax.Sub(p.xMin)
	for i := 0; i < vLines+1; i++ {
		x := p.x + float32(i)*p.width/vLines
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.height))

		offset := span * time.Duration(i) / vLines
		r.text(formatElapsed(offset), fyne.TextAlignCenter, fyne.NewPos(x-20, p.y+p.height+5))
	}
}

// drawResets marks smoothing window resets with vertical lines.
func (r *trendRenderer) drawResets(p plot, resets []time.Time) {
	for _, ts := range resets {
		if ts.Before(p.xMin) || ts.After(p.xMax) {
			continue
		}
		top := p.pos(ts, p.yMax)
		bottom := p.pos(ts, p.yMin)
		r.line(resetColor, 1, top, bottom)
	}
}

// drawTrace draws the readings as connected segments.
func (r *trendRenderer) drawTrace(p plot, points []sample.Point) {
	if len(points) < 2 {
		return
	}

	prev := p.pos(points[0].Timestamp, points[0].Value)
	for _, pt := range points[1:] {
		next := p.pos(pt.Timestamp, pt.Value)
		r.line(traceColor, 1.5, prev, next)
		prev = next
	}
}

func (r *trendRenderer) line(c color.Color, width float32, from, to fyne.Position) {
	line := canvas.NewLine(c)
	line.Position1 = from
	line.Position2 = to
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

func (r *trendRenderer) text(s string, align fyne.TextAlign, pos fyne.Position) {
	text := canvas.NewText(s, labelColor)
	text.TextSize = 10
	text.Alignment = align
	text.Move(pos)
	r.objects = append(r.objects, text)
}

func (r *trendRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *trendRenderer) Destroy() {}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
}
