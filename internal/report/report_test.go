package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func testChannels(t *testing.T) atoms.ChannelSet {
	t.Helper()
	cs, err := atoms.NewChannelSet(
		atoms.Channel{Name: "C", Radius: 1, Index: 0},
		atoms.Channel{Name: "O", Radius: 1, Index: 1},
	)
	require.NoError(t, err)
	return cs
}

func testVisited() []fit.VisitedEntry {
	one := atoms.MustStructure([]r3.Vec{{X: 1}}, []int{0})
	two := atoms.MustStructure([]r3.Vec{{X: 1}, {Y: -2}}, []int{0, 1})
	return []fit.VisitedEntry{
		{Objective: fit.Objective{FitLoss: 9}, ParentID: 0, Elapsed: 10 * time.Millisecond, Structure: one},
		{Objective: fit.Objective{FitLoss: 12}, ParentID: 0, Elapsed: 20 * time.Millisecond, Structure: one},
		{Objective: fit.Objective{FitLoss: 3}, ParentID: 1, Elapsed: 30 * time.Millisecond, Structure: two},
	}
}

func TestStats(t *testing.T) {
	st := Stats(testVisited())
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 3.0, st.MinFitLoss)
	assert.Equal(t, 12.0, st.MaxFitLoss)
	assert.InDelta(t, 8.0, st.MeanFitLoss, 1e-12)
	assert.InDelta(t, math.Sqrt(21), st.StdFitLoss, 1e-12)
	assert.Equal(t, 2, st.MaxAtoms)
	assert.Equal(t, 30*time.Millisecond, st.Span)

	empty := Stats(nil)
	assert.Zero(t, empty.Count)
	assert.True(t, math.IsNaN(empty.MinFitLoss))
	assert.True(t, math.IsNaN(empty.MeanFitLoss))

	single := Stats(testVisited()[:1])
	assert.Equal(t, 9.0, single.MeanFitLoss)
	assert.True(t, math.IsNaN(single.StdFitLoss))
}

func TestRunningBest(t *testing.T) {
	assert.Equal(t, []float64{9, 9, 3}, runningBest(testVisited()))
}

func TestWriteSearchPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSearchPNG(&buf, "item", testVisited()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	err := WriteSearchPNG(&buf, "item", nil)
	assert.True(t, errors.Is(err, ErrNoHistory))
}

func TestSearchPlots(t *testing.T) {
	pLoss, pAtoms, err := SearchPlots("item", testVisited())
	require.NoError(t, err)
	assert.Equal(t, "item - Fit Loss", pLoss.Title.Text)
	assert.Equal(t, "item - Atoms", pAtoms.Title.Text)
}

func TestRenderStructurePage(t *testing.T) {
	truth := atoms.MustStructure([]r3.Vec{{X: 1}, {Y: -2}}, []int{0, 1})
	var buf bytes.Buffer
	err := RenderStructurePage(&buf, StructurePage{
		Title:    "item-7",
		Channels: testChannels(t),
		Fitted:   atoms.MustStructure([]r3.Vec{{X: 1.1}}, []int{0}),
		Truth:    &truth,
		Visited:  testVisited(),
	})
	require.NoError(t, err)
	html := buf.String()
	assert.Contains(t, html, "item-7")
	assert.Contains(t, html, "fit C")
	assert.Contains(t, html, "true O")
	assert.NotContains(t, html, "fit O")
}

func TestChannelNameFallback(t *testing.T) {
	cs := testChannels(t)
	assert.Equal(t, "O", channelName(cs, 1))
	assert.Equal(t, "type 3", channelName(cs, 3))
	assert.Equal(t, "type 0", channelName(nil, 0))
}

func TestProjectionExtent(t *testing.T) {
	s := atoms.MustStructure([]r3.Vec{{X: -3.2, Y: 0.5}}, []int{0})
	assert.Equal(t, 5.0, projectionExtent(s, nil))
	assert.Equal(t, 1.0, projectionExtent(atoms.Structure{}, nil))
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "a_b_c.d", fileSafe("a/b c.d"))
	assert.Equal(t, "a_b", fileSafe("a // b"))
	assert.Equal(t, "item", fileSafe(""))
	assert.Equal(t, "item", fileSafe("../.."))
}

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewWriter(dir)
	require.NoError(t, err)

	cs := testChannels(t)
	truth := atoms.MustStructure([]r3.Vec{{X: 1}, {Y: -2}}, []int{0, 1})
	fitted := atoms.MustStructure([]r3.Vec{{X: 1}, {Y: -2}}, []int{0, 1})
	item := source.Item{Name: "sample/1", Field: grid.New(cs, 8, r3.Vec{}, 0.5), Truth: &truth}

	require.NoError(t, w.Write(pipeline.Output{RunID: "r", Seq: 0, Stage: pipeline.StageInput, Item: item}))
	require.NoError(t, w.Write(pipeline.Output{
		RunID: "r", Seq: 0, Stage: pipeline.StageFit, Item: item,
		Structure: fitted, RMSD: 0,
		Result: &fit.Result{
			Structure: fitted,
			Visited:   testVisited(),
			Diagnostics: fit.Diagnostics{
				L1Loss: 1, L2Loss: 0.5, EstTypeDiff: math.NaN(), NAtoms: 2,
				Elapsed: 1500 * time.Microsecond, Expanded: 2, Accepted: 2,
			},
		},
	}))
	require.NoError(t, w.Write(pipeline.Output{
		RunID: "r", Seq: 1, Stage: pipeline.StageFit,
		Item: source.Item{Name: "broken"}, RMSD: math.NaN(),
		Err: errors.New("fit broken: bad field"),
	}))
	require.NoError(t, w.Close())

	for _, name := range []string{
		"0000_sample_1.json", "0000_sample_1_search.png", "0000_sample_1_structure.html",
		"0001_broken.json", "index.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(dir, "0001_broken_search.png"))
	assert.True(t, os.IsNotExist(err))

	index, err := ReadIndex(fsutil.OSFileSystem{}, dir)
	require.NoError(t, err)
	require.Len(t, index, 2)

	ok := index[0]
	assert.Equal(t, "sample/1", ok.Name)
	assert.Equal(t, 2, ok.NAtoms)
	require.NotNil(t, ok.L2Loss)
	assert.Equal(t, 0.5, *ok.L2Loss)
	assert.Nil(t, ok.EstTypeDiff)
	require.NotNil(t, ok.RMSD)
	assert.Zero(t, *ok.RMSD)
	assert.Equal(t, 1.5, ok.ElapsedMS)
	assert.Equal(t, 3, ok.Visited)
	require.NotNil(t, ok.MinFitLoss)
	assert.Equal(t, 3.0, *ok.MinFitLoss)
	require.NotNil(t, ok.Structure)
	assert.Equal(t, []int{0, 1}, ok.Structure.Types())
	assert.Len(t, ok.Files, 2)

	bad := index[1]
	assert.Equal(t, "fit broken: bad field", bad.Error)
	assert.Nil(t, bad.Structure)
	assert.Nil(t, bad.RMSD)

	html, err := os.ReadFile(filepath.Join(dir, "0000_sample_1_structure.html"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "true O"))
}

func TestWriterEmptyIndex(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	w, err := NewWriterFS(mem, "reports")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	index, err := ReadIndex(mem, "reports")
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestWriterInMemory(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	w, err := NewWriterFS(mem, "reports")
	require.NoError(t, err)
	w.Plots = false

	fitted := atoms.MustStructure([]r3.Vec{{X: 1}}, []int{0})
	require.NoError(t, w.Write(pipeline.Output{
		RunID: "r", Seq: 3, Stage: pipeline.StageFit,
		Item: source.Item{Name: "m"}, Structure: fitted, RMSD: math.NaN(),
		Result: &fit.Result{Structure: fitted, Visited: testVisited(),
			Diagnostics: fit.Diagnostics{EstTypeDiff: math.NaN()}},
	}))
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"0003_m.json", "0003_m_structure.html", "index.json"}, mem.Files("reports"))
	require.Len(t, w.Digests(), 1)
	assert.Equal(t, []string{"0003_m_structure.html"}, w.Digests()[0].Files)
}

func TestWriterDiagnostics(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	w, err := NewWriterFS(mem, "reports")
	require.NoError(t, err)
	w.Plots, w.Pages = false, false
	w.Diagnostics = NewDiagnostics(kernel.NewCache(), true, true)

	cs := testChannels(t)
	field := grid.New(cs, 8, r3.Vec{}, 0.5)
	atom := field.Point(4, 4, 4)
	field.AddAtom(0, atom)

	for seq, name := range []string{"a", "b"} {
		fitted := atoms.MustStructure([]r3.Vec{atom}, []int{0})
		require.NoError(t, w.Write(pipeline.Output{
			RunID: "r", Seq: seq, Stage: pipeline.StageFit,
			Item: source.Item{Name: name, Field: field}, Structure: fitted, RMSD: math.NaN(),
			Result: &fit.Result{Structure: fitted, Diagnostics: fit.Diagnostics{EstTypeDiff: math.NaN()}},
		}))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, []string{
		"0000_a.json", "0000_a_conv.json", "0001_b.json", "0001_b_conv.json",
		"conv_kernel_C-O_r0.5.json", "deconv_kernel_C-O_r0.5.json", "index.json",
	}, mem.Files("reports"))

	digests := w.Digests()
	require.Len(t, digests, 2)
	assert.Equal(t, []string{"conv_kernel_C-O_r0.5.json", "deconv_kernel_C-O_r0.5.json", "0000_a_conv.json"}, digests[0].Files)
	assert.Equal(t, []string{"0001_b_conv.json"}, digests[1].Files)

	raw, err := mem.ReadFile(filepath.Join("reports", "conv_kernel_C-O_r0.5.json"))
	require.NoError(t, err)
	k, err := ReadFieldDigest(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "O"}, k.Channels)
	assert.Equal(t, 1, k.N%2)
	require.Len(t, k.Values, 2*k.N*k.N*k.N)
	mid := k.N / 2
	assert.InDelta(t, 1.0, k.Values[(mid*k.N+mid)*k.N+mid], 1e-12)
	assert.Greater(t, k.Norm, 0.0)

	raw, err = mem.ReadFile(filepath.Join("reports", "deconv_kernel_C-O_r0.5.json"))
	require.NoError(t, err)
	deconv, err := ReadFieldDigest(raw)
	require.NoError(t, err)
	assert.Equal(t, k.N, deconv.N)
	assert.NotEqual(t, k.Values, deconv.Values)

	raw, err = mem.ReadFile(filepath.Join("reports", "0000_a_conv.json"))
	require.NoError(t, err)
	conv, err := ReadFieldDigest(raw)
	require.NoError(t, err)
	assert.Equal(t, 8, conv.N)
	assert.InDelta(t, 1.0, conv.Values[field.Index(0, 4, 4, 4)], 1e-6)
	assert.InDelta(t, 0.0, conv.ChannelSums[1], 1e-9)
}
