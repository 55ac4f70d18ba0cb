package grid

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fft3 transforms an m×m×m complex volume in place along all three axes.
// The inverse transform is normalised by m³.
func fft3(data []complex128, m int, inverse bool) {
	t := fourier.NewCmplxFFT(m)
	line := make([]complex128, m)
	strides := [3]int{m * m, m, 1}
	for axis, stride := range strides {
		// enumerate every line along axis by its starting offset
		for a := 0; a < m; a++ {
			for b := 0; b < m; b++ {
				var start int
				switch axis {
				case 0:
					start = a*m + b
				case 1:
					start = a*m*m + b
				default:
					start = (a*m + b) * m
				}
				for n := 0; n < m; n++ {
					line[n] = data[start+n*stride]
				}
				if inverse {
					t.Sequence(line, line)
				} else {
					t.Coefficients(line, line)
				}
				for n := 0; n < m; n++ {
					data[start+n*stride] = line[n]
				}
			}
		}
	}
	if inverse {
		scale := complex(1/float64(m*m*m), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// embed copies an n³ real volume into the corner of a zeroed m³ complex one.
func embed(dst []complex128, m int, src []float64, n int) {
	for i := range dst {
		dst[i] = 0
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				dst[(i*m+j)*m+k] = complex(src[(i*n+j)*n+k], 0)
			}
		}
	}
}

// Correlate3 returns the zero-padded, same-size cross-correlation of an n³
// volume with an odd k³ kernel centred on its middle voxel:
//
//	out[x] = Σ_u kernel[u] · in[x + u − k/2]
//
// It is computed as a linear convolution with the flipped kernel over an
// (n+k−1)³ FFT so that no wrap-around occurs.
func Correlate3(in []float64, n int, kernel []float64, k int) ([]float64, error) {
	if len(in) != n*n*n {
		return nil, fmt.Errorf("%w: volume has %d values, want %d", ErrShape, len(in), n*n*n)
	}
	if k%2 == 0 || len(kernel) != k*k*k {
		return nil, fmt.Errorf("%w: kernel must be odd and cubic, got k=%d with %d values", ErrShape, k, len(kernel))
	}
	m := n + k - 1
	h := k / 2

	flipped := make([]float64, len(kernel))
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			for l := 0; l < k; l++ {
				flipped[((k-1-i)*k+(k-1-j))*k+(k-1-l)] = kernel[(i*k+j)*k+l]
			}
		}
	}

	a := make([]complex128, m*m*m)
	b := make([]complex128, m*m*m)
	embed(a, m, in, n)
	embed(b, m, flipped, k)
	fft3(a, m, false)
	fft3(b, m, false)
	for i := range a {
		a[i] *= b[i]
	}
	fft3(a, m, true)

	out := make([]float64, n*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for l := 0; l < n; l++ {
				out[(i*n+j)*n+l] = real(a[((i+h)*m+(j+h))*m+(l+h)])
			}
		}
	}
	return out, nil
}

// WienerInverse returns the regularised inverse filter of a k³ kernel,
// real(F⁻¹(conj(H) / (|H|² + noiseRatio))) with H = F(kernel).
func WienerInverse(kernel []float64, k int, noiseRatio float64) ([]float64, error) {
	if len(kernel) != k*k*k {
		return nil, fmt.Errorf("%w: kernel has %d values, want %d", ErrShape, len(kernel), k*k*k)
	}
	h := make([]complex128, len(kernel))
	embed(h, k, kernel, k)
	fft3(h, k, false)
	for i, v := range h {
		p := real(v * cmplx.Conj(v))
		if p+noiseRatio == 0 {
			h[i] = 0
			continue
		}
		h[i] = cmplx.Conj(v) / complex(p+noiseRatio, 0)
	}
	fft3(h, k, true)
	out := make([]float64, len(h))
	for i, v := range h {
		out[i] = real(v)
	}
	return out, nil
}
