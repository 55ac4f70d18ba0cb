package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/pipeline"
)

// Digest is the JSON summary written for every fit output. Undefined
// metrics are omitted.
type Digest struct {
	RunID       string           `json:"run_id"`
	Seq         int              `json:"seq"`
	Name        string           `json:"name"`
	NAtoms      int              `json:"n_atoms"`
	L1Loss      *float64         `json:"l1_loss,omitempty"`
	L2Loss      *float64         `json:"l2_loss,omitempty"`
	TypeDiff    *float64         `json:"type_diff,omitempty"`
	EstTypeDiff *float64         `json:"est_type_diff,omitempty"`
	RMSD        *float64         `json:"rmsd,omitempty"`
	ElapsedMS   float64          `json:"elapsed_ms"`
	Expanded    int              `json:"expanded"`
	Accepted    int              `json:"accepted"`
	Visited     int              `json:"visited"`
	MinFitLoss  *float64         `json:"min_fit_loss,omitempty"`
	MeanFitLoss *float64         `json:"mean_fit_loss,omitempty"`
	StdFitLoss  *float64         `json:"std_fit_loss,omitempty"`
	Structure   *atoms.Structure `json:"structure,omitempty"`
	Error       string           `json:"error,omitempty"`
	Files       []string         `json:"files,omitempty"`
}

// Writer is a pipeline sink that writes a digest, a search plot and a
// structure page per fit output into a directory. Close writes an index
// of every digest. When Diagnostics is set, detection kernels and
// convolved fields are written too.
type Writer struct {
	fsys        fsutil.FileSystem
	dir         string
	Plots       bool
	Pages       bool
	Diagnostics *Diagnostics
	digests     []Digest
}

// NewWriter creates dir if needed and returns a Writer producing every
// artefact on the real filesystem.
func NewWriter(dir string) (*Writer, error) {
	return NewWriterFS(fsutil.OSFileSystem{}, dir)
}

// NewWriterFS is NewWriter on fsys.
func NewWriterFS(fsys fsutil.FileSystem, dir string) (*Writer, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Writer{fsys: fsys, dir: dir, Plots: true, Pages: true}, nil
}

// Digests returns the digests written so far.
func (w *Writer) Digests() []Digest {
	return append([]Digest(nil), w.digests...)
}

// Write implements pipeline.Sink. Input outputs are ignored.
func (w *Writer) Write(o pipeline.Output) error {
	if o.Stage != pipeline.StageFit {
		return nil
	}
	base := fmt.Sprintf("%04d_%s", o.Seq, fileSafe(o.Item.Name))
	d := Digest{RunID: o.RunID, Seq: o.Seq, Name: o.Item.Name, RMSD: finite(o.RMSD)}
	if o.Err != nil {
		d.Error = o.Err.Error()
	}
	if w.Diagnostics != nil && o.Item.Field != nil {
		files, err := w.writeDiagnostics(base, o.Item.Field)
		d.Files = append(d.Files, files...)
		if err != nil {
			return fmt.Errorf("%s: diagnostics: %w", o.Item.Name, err)
		}
	}

	if res := o.Result; res != nil {
		diag := res.Diagnostics
		s := o.Structure
		d.Structure = &s
		d.NAtoms = s.Len()
		d.L1Loss, d.L2Loss = finite(diag.L1Loss), finite(diag.L2Loss)
		d.TypeDiff, d.EstTypeDiff = finite(diag.TypeDiff), finite(diag.EstTypeDiff)
		d.ElapsedMS = float64(diag.Elapsed.Microseconds()) / 1000
		d.Expanded, d.Accepted = diag.Expanded, diag.Accepted

		st := Stats(res.Visited)
		d.Visited = st.Count
		d.MinFitLoss, d.MeanFitLoss, d.StdFitLoss = finite(st.MinFitLoss), finite(st.MeanFitLoss), finite(st.StdFitLoss)

		if w.Plots && len(res.Visited) > 0 {
			name := base + "_search.png"
			var buf bytes.Buffer
			if err := WriteSearchPNG(&buf, o.Item.Name, res.Visited); err != nil {
				return fmt.Errorf("%s: %w", o.Item.Name, err)
			}
			if err := w.writeFile(name, buf.Bytes()); err != nil {
				return err
			}
			d.Files = append(d.Files, name)
		}
		if w.Pages {
			name := base + "_structure.html"
			var buf bytes.Buffer
			page := StructurePage{
				Title:   o.Item.Name,
				Fitted:  s,
				Truth:   o.Item.Truth,
				Visited: res.Visited,
			}
			if o.Item.Field != nil {
				page.Channels = o.Item.Field.Channels
			}
			if err := RenderStructurePage(&buf, page); err != nil {
				return fmt.Errorf("%s: %w", o.Item.Name, err)
			}
			if err := w.writeFile(name, buf.Bytes()); err != nil {
				return err
			}
			d.Files = append(d.Files, name)
		}
	}

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode digest of %s: %w", o.Item.Name, err)
	}
	if err := w.writeFile(base+".json", raw); err != nil {
		return err
	}
	w.digests = append(w.digests, d)
	monitoring.Debugf(2, "report: wrote %s (%d files)", base, len(d.Files)+1)
	return nil
}

// Close writes index.json listing every digest.
func (w *Writer) Close() error {
	if w.digests == nil {
		w.digests = []Digest{}
	}
	raw, err := json.MarshalIndent(w.digests, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report index: %w", err)
	}
	return w.writeFile("index.json", raw)
}

// ReadIndex loads the index written by Close.
func ReadIndex(fsys fsutil.FileSystem, dir string) ([]Digest, error) {
	raw, err := fsys.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return nil, err
	}
	var out []Digest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode report index: %w", err)
	}
	return out, nil
}

func (w *Writer) writeFile(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	if err := w.fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

// fileSafe maps a name to a file name component: ASCII letters, digits,
// dot, dash and underscore are kept, runs of anything else become a single
// underscore.
func fileSafe(name string) string {
	const maxLen = 96
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "item"
}

var _ pipeline.Sink = (*Writer)(nil)
