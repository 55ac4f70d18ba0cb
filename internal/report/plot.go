package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/atomfit/internal/fit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoHistory is returned when there is nothing to draw.
var ErrNoHistory = errors.New("no visited structures")

var (
	visitedColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	bestColor    = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	atomsColor   = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
)

// SearchPlots builds the two search-history plots of a result: fit loss
// of every visited structure against elapsed seconds with the running
// best overlaid, and atom count against elapsed seconds.
func SearchPlots(title string, visited []fit.VisitedEntry) (*plot.Plot, *plot.Plot, error) {
	if len(visited) == 0 {
		return nil, nil, ErrNoHistory
	}

	lossPts := make(plotter.XYs, len(visited))
	bestPts := make(plotter.XYs, len(visited))
	atomPts := make(plotter.XYs, len(visited))
	best := runningBest(visited)
	for i, v := range visited {
		t := v.Elapsed.Seconds()
		lossPts[i] = plotter.XY{X: t, Y: v.Objective.FitLoss}
		bestPts[i] = plotter.XY{X: t, Y: best[i]}
		atomPts[i] = plotter.XY{X: t, Y: float64(v.Structure.Len())}
	}

	pLoss := plot.New()
	pLoss.Title.Text = fmt.Sprintf("%s - Fit Loss", title)
	pLoss.X.Label.Text = "Elapsed (s)"
	pLoss.Y.Label.Text = "Loss"

	scatter, err := plotter.NewScatter(lossPts)
	if err != nil {
		return nil, nil, err
	}
	scatter.GlyphStyle.Color = visitedColor
	scatter.GlyphStyle.Radius = vg.Points(2)
	pLoss.Add(scatter)
	pLoss.Legend.Add("visited", scatter)

	bestLine, err := plotter.NewLine(bestPts)
	if err != nil {
		return nil, nil, err
	}
	bestLine.Color = bestColor
	bestLine.Width = vg.Points(1)
	pLoss.Add(bestLine)
	pLoss.Legend.Add("best", bestLine)

	pLoss.Legend.Top = true
	pLoss.Legend.Left = false
	pLoss.Legend.XOffs = -10
	pLoss.Legend.YOffs = -10

	pAtoms := plot.New()
	pAtoms.Title.Text = fmt.Sprintf("%s - Atoms", title)
	pAtoms.X.Label.Text = "Elapsed (s)"
	pAtoms.Y.Label.Text = "Atoms"

	atomLine, err := plotter.NewLine(atomPts)
	if err != nil {
		return nil, nil, err
	}
	atomLine.Color = atomsColor
	atomLine.Width = vg.Points(1)
	pAtoms.Add(atomLine)

	return pLoss, pAtoms, nil
}

// WriteSearchPNG renders the fit loss plot of SearchPlots as a PNG.
func WriteSearchPNG(w io.Writer, title string, visited []fit.VisitedEntry) error {
	pLoss, _, err := SearchPlots(title, visited)
	if err != nil {
		return err
	}
	return writePNG(w, pLoss)
}

func writePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
