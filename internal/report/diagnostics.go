package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/atomfit/internal/detect"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/kernel"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"gonum.org/v1/gonum/floats"
)

// DefaultNoiseRatio regularises the Wiener inverse of written
// deconvolution kernels.
const DefaultNoiseRatio = 1.0

// FieldDigest is the JSON form of a density field written as a diagnostic.
// Values keep the field's [channel][x][y][z] layout.
type FieldDigest struct {
	Name        string     `json:"name"`
	Channels    []string   `json:"channels"`
	N           int        `json:"n"`
	Resolution  float64    `json:"resolution"`
	Center      [3]float64 `json:"center"`
	Norm        float64    `json:"norm"`
	ChannelSums []float64  `json:"channel_sums"`
	Values      []float64  `json:"values"`
}

// NewFieldDigest copies f into a FieldDigest.
func NewFieldDigest(name string, f *grid.Field) FieldDigest {
	return FieldDigest{
		Name:        name,
		Channels:    f.Channels.Names(),
		N:           f.N,
		Resolution:  f.Resolution,
		Center:      [3]float64{f.Center.X, f.Center.Y, f.Center.Z},
		Norm:        floats.Norm(f.Values, 2),
		ChannelSums: f.ChannelSums(),
		Values:      append([]float64(nil), f.Values...),
	}
}

// Diagnostics selects the detection diagnostics a Writer emits. Kernel
// writes the detection kernel and its Wiener deconvolution once per channel
// set and resolution. Conv writes every item's convolved detection field.
type Diagnostics struct {
	Kernels    *kernel.Cache
	Kernel     bool
	Conv       bool
	NoiseRatio float64

	written map[string]bool
}

// NewDiagnostics returns diagnostics drawing kernels from cache, or from
// the process-wide cache when cache is nil.
func NewDiagnostics(cache *kernel.Cache, writeKernel, writeConv bool) *Diagnostics {
	if cache == nil {
		cache = kernel.Shared()
	}
	return &Diagnostics{Kernels: cache, Kernel: writeKernel, Conv: writeConv, NoiseRatio: DefaultNoiseRatio}
}

// kernelFiles returns the conv and deconv kernel file names for f.
func kernelFiles(f *grid.Field) (string, string) {
	id := fmt.Sprintf("%s_r%g", fileSafe(strings.Join(f.Channels.Names(), "-")), f.Resolution)
	return "conv_kernel_" + id + ".json", "deconv_kernel_" + id + ".json"
}

// writeDiagnostics writes the enabled diagnostics for field and returns
// the names of the files it wrote.
func (w *Writer) writeDiagnostics(base string, field *grid.Field) ([]string, error) {
	d := w.Diagnostics
	var files []string

	if d.Kernel {
		key := fmt.Sprintf("%s@%g", field.Channels.Key(), field.Resolution)
		if !d.written[key] {
			convName, deconvName := kernelFiles(field)
			k, err := d.Kernels.Get(field.Channels, field.Resolution)
			if err != nil {
				return files, err
			}
			b, err := kernel.NewBuilder(field.Channels, field.Resolution)
			if err != nil {
				return files, err
			}
			deconv, err := b.BuildDeconvolved(d.NoiseRatio)
			if err != nil {
				return files, err
			}
			for _, out := range []struct {
				name  string
				field *grid.Field
			}{{convName, k}, {deconvName, deconv}} {
				if err := w.writeJSON(out.name, NewFieldDigest(strings.TrimSuffix(out.name, ".json"), out.field)); err != nil {
					return files, err
				}
				files = append(files, out.name)
			}
			if d.written == nil {
				d.written = make(map[string]bool)
			}
			d.written[key] = true
			monitoring.Debugf(1, "report: wrote %s (norm=%.6g) and %s", convName, floats.Norm(k.Values, 2), deconvName)
		}
	}

	if d.Conv {
		conv, err := detect.NewDetector(detect.Config{}, d.Kernels).Convolve(field)
		if err != nil {
			return files, err
		}
		name := base + "_conv.json"
		if err := w.writeJSON(name, NewFieldDigest(base+"_conv", conv)); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}

func (w *Writer) writeJSON(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return w.writeFile(name, raw)
}

// ReadFieldDigest loads a diagnostic field written by a Writer.
func ReadFieldDigest(raw []byte) (FieldDigest, error) {
	var fd FieldDigest
	if err := json.Unmarshal(raw, &fd); err != nil {
		return FieldDigest{}, fmt.Errorf("failed to decode field digest: %w", err)
	}
	return fd, nil
}
