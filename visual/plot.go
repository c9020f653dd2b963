// Package visual renders projections, cluster assignments and silhouette sweeps
// with gonum/plot. The output format follows the file extension (png, svg, pdf).
package visual

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
	"github.com/YuminosukeSato/embedcluster/pkg/log"
)

// NoiseLabel はノイズとして灰色で描く整数ラベル
const NoiseLabel = -1

// Size は出力画像の一辺の長さ
var Size = 6 * vg.Inch

var noiseColor = color.Gray{Y: 170}

// Panel は整数ラベルで色分けする散布図1枚分
type Panel struct {
	Title  string
	Coords mat.Matrix
	Labels []int
}

// ScatterByLabel はcoordsの先頭2列を、文字列ラベルごとに色分けして描く。
// 凡例の順序はラベルの初出順。
func ScatterByLabel(path, title string, coords mat.Matrix, labels []string) error {
	xys, err := points(coords, len(labels))
	if err != nil {
		return err
	}

	var order []string
	groups := map[string]plotter.XYs{}
	for i, l := range labels {
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], xys[i])
	}

	p := newPlot(title, "PC1", "PC2")
	for i, l := range order {
		if err := addScatter(p, l, groups[l], plotutil.Color(i)); err != nil {
			return err
		}
	}
	return save(p, path)
}

// ClusterPanels は複数のクラスタ割り当てを横に並べて1枚の画像にする
func ClusterPanels(path string, panels ...Panel) error {
	if len(panels) == 0 {
		return errors.NewValidationError("panels", "at least one panel required", 0)
	}

	row := make([]*plot.Plot, len(panels))
	for i, panel := range panels {
		p, err := clusterPlot(panel)
		if err != nil {
			return errors.Wrapf(err, "panel %d", i)
		}
		row[i] = p
	}

	width := Size * vg.Length(len(panels))
	img := vgimg.New(width, Size)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(panels),
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,
	}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for i, p := range row {
		p.Draw(canvases[0][i])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	log.GetLoggerWithName("visual").Debug("plot written", log.PathKey, path)
	return nil
}

func clusterPlot(panel Panel) (*plot.Plot, error) {
	xys, err := points(panel.Coords, len(panel.Labels))
	if err != nil {
		return nil, err
	}

	groups := map[int]plotter.XYs{}
	for i, l := range panel.Labels {
		groups[l] = append(groups[l], xys[i])
	}
	keys := make([]int, 0, len(groups))
	for l := range groups {
		keys = append(keys, l)
	}
	sort.Ints(keys)

	p := newPlot(panel.Title, "x", "y")
	for _, l := range keys {
		name := fmt.Sprintf("cluster %d", l)
		c := plotutil.Color(l)
		if l == NoiseLabel {
			name = "noise"
			c = noiseColor
		}
		if err := addScatter(p, name, groups[l], c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SilhouetteCurve はkごとのシルエット係数を折れ線で描く
func SilhouetteCurve(path string, ks []int, scores []float64) error {
	if len(ks) == 0 {
		return errors.NewEmptyInputError("SilhouetteCurve")
	}
	if len(ks) != len(scores) {
		return errors.NewShapeError("SilhouetteCurve", len(ks), len(scores), 0)
	}

	xys := make(plotter.XYs, len(ks))
	for i := range ks {
		xys[i].X = float64(ks[i])
		xys[i].Y = scores[i]
	}

	p := newPlot("Silhouette score by k", "k", "silhouette")
	if err := plotutil.AddLinePoints(p, "silhouette", xys); err != nil {
		return errors.Wrap(err, "add line")
	}
	return save(p, path)
}

func newPlot(title, xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	return p
}

func addScatter(p *plot.Plot, name string, xys plotter.XYs, c color.Color) error {
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return errors.Wrapf(err, "scatter %s", name)
	}
	s.GlyphStyle.Radius = vg.Points(2)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Color = c
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

// points はcoordsの先頭2列をXYに変換する
func points(coords mat.Matrix, nLabels int) (plotter.XYs, error) {
	r, c := coords.Dims()
	if r == 0 {
		return nil, errors.NewEmptyInputError("visual.points")
	}
	if c < 2 {
		return nil, errors.NewShapeError("visual.points", 2, c, 1)
	}
	if nLabels != r {
		return nil, errors.NewShapeError("visual.points", r, nLabels, 0)
	}
	if err := errors.CheckMatrix("visual.points", coords, 0); err != nil {
		return nil, err
	}
	xys := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		xys[i].X = coords.At(i, 0)
		xys[i].Y = coords.At(i, 1)
	}
	return xys, nil
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(Size, Size, path); err != nil {
		return errors.Wrapf(err, "save %s (%s)", path, filepath.Ext(path))
	}
	log.GetLoggerWithName("visual").Debug("plot written", log.PathKey, path)
	return nil
}
