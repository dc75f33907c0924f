package forecast

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// LSTM is a stacked LSTM with a dense head, loaded from exported weights.
// Gate order in kernels and biases is input, forget, cell, output.
type LSTM struct {
	window int
	layers []lstmLayer
	head   []denseLayer
	shape  OutputShape
}

type lstmLayer struct {
	units     int
	kernel    [][]float64 // in x 4*units
	recurrent [][]float64 // units x 4*units
	bias      []float64   // 4*units
}

type denseLayer struct {
	kernel     [][]float64 // in x out
	bias       []float64
	activation func(float64) float64
}

type lstmFile struct {
	Window  int       `json:"window"`
	Outputs []Feature `json:"outputs"`
	LSTM    []struct {
		Kernel          [][]float64 `json:"kernel"`
		RecurrentKernel [][]float64 `json:"recurrent_kernel"`
		Bias            []float64   `json:"bias"`
	} `json:"lstm"`
	Dense []struct {
		Kernel     [][]float64 `json:"kernel"`
		Bias       []float64   `json:"bias"`
		Activation string      `json:"activation"`
	} `json:"dense"`
}

func LoadLSTM(path string) (*LSTM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return ParseLSTM(f)
}

func ParseLSTM(r io.Reader) (*LSTM, error) {
	var file lstmFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	shape, err := NewOutputShape(file.Outputs...)
	if err != nil {
		return nil, err
	}
	if len(file.LSTM) == 0 {
		return nil, fmt.Errorf("model has no lstm layers")
	}

	m := &LSTM{window: file.Window, shape: shape}
	in := NumFeatures
	for i, l := range file.LSTM {
		units := len(l.RecurrentKernel)
		if units == 0 {
			return nil, fmt.Errorf("lstm layer %d: empty recurrent kernel", i)
		}
		if err := checkMatrix(l.Kernel, in, 4*units); err != nil {
			return nil, fmt.Errorf("lstm layer %d kernel: %w", i, err)
		}
		if err := checkMatrix(l.RecurrentKernel, units, 4*units); err != nil {
			return nil, fmt.Errorf("lstm layer %d recurrent kernel: %w", i, err)
		}
		if len(l.Bias) != 4*units {
			return nil, fmt.Errorf("lstm layer %d bias: got %d, want %d", i, len(l.Bias), 4*units)
		}
		m.layers = append(m.layers, lstmLayer{units: units, kernel: l.Kernel, recurrent: l.RecurrentKernel, bias: l.Bias})
		in = units
	}

	for i, d := range file.Dense {
		if len(d.Kernel) == 0 {
			return nil, fmt.Errorf("dense layer %d: empty kernel", i)
		}
		out := len(d.Kernel[0])
		if err := checkMatrix(d.Kernel, in, out); err != nil {
			return nil, fmt.Errorf("dense layer %d kernel: %w", i, err)
		}
		if len(d.Bias) != out {
			return nil, fmt.Errorf("dense layer %d bias: got %d, want %d", i, len(d.Bias), out)
		}
		act, err := activation(d.Activation)
		if err != nil {
			return nil, fmt.Errorf("dense layer %d: %w", i, err)
		}
		m.head = append(m.head, denseLayer{kernel: d.Kernel, bias: d.Bias, activation: act})
		in = out
	}

	if in != shape.Len() {
		return nil, fmt.Errorf("%w: network emits %d values for %d outputs", ErrModelShape, in, shape.Len())
	}
	return m, nil
}

func checkMatrix(m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("got %d rows, want %d", len(m), rows)
	}
	for i, r := range m {
		if len(r) != cols {
			return fmt.Errorf("row %d: got %d cols, want %d", i, len(r), cols)
		}
	}
	return nil
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "", "linear":
		return func(x float64) float64 { return x }, nil
	case "relu":
		return func(x float64) float64 { return math.Max(0, x) }, nil
	case "sigmoid":
		return sigmoid, nil
	case "tanh":
		return math.Tanh, nil
	}
	return nil, fmt.Errorf("unsupported activation %q", name)
}

// Window is the sequence length the model was trained on; 0 if not recorded.
func (m *LSTM) Window() int { return m.window }

func (m *LSTM) OutputShape() OutputShape { return m.shape }

func (m *LSTM) Predict(window [][]float64) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("empty window")
	}
	seq := window
	for _, l := range m.layers {
		var err error
		if seq, err = l.forward(seq); err != nil {
			return nil, err
		}
	}

	x := seq[len(seq)-1]
	for _, d := range m.head {
		x = d.forward(x)
	}
	return x, nil
}

// forward returns the hidden state after every timestep.
func (l lstmLayer) forward(seq [][]float64) ([][]float64, error) {
	h := make([]float64, l.units)
	c := make([]float64, l.units)
	z := make([]float64, 4*l.units)
	out := make([][]float64, len(seq))

	for t, x := range seq {
		if len(x) != len(l.kernel) {
			return nil, fmt.Errorf("timestep %d: got %d inputs, want %d", t, len(x), len(l.kernel))
		}
		copy(z, l.bias)
		accumulate(z, x, l.kernel)
		accumulate(z, h, l.recurrent)

		n := l.units
		next := make([]float64, n)
		for j := 0; j < n; j++ {
			i := sigmoid(z[j])
			f := sigmoid(z[n+j])
			g := math.Tanh(z[2*n+j])
			o := sigmoid(z[3*n+j])
			c[j] = f*c[j] + i*g
			next[j] = o * math.Tanh(c[j])
		}
		h = next
		out[t] = h
	}
	return out, nil
}

func (d denseLayer) forward(x []float64) []float64 {
	y := make([]float64, len(d.bias))
	copy(y, d.bias)
	accumulate(y, x, d.kernel)
	for i := range y {
		y[i] = d.activation(y[i])
	}
	return y
}

// accumulate adds x·w to dst.
func accumulate(dst, x []float64, w [][]float64) {
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		for j, wij := range w[i] {
			dst[j] += xi * wij
		}
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
