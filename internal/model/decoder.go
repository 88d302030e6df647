package model

import "fmt"

type windowHeads struct {
	reg linear
	bin linear
}

// Decoder holds one regression head and one binary head per window.
type Decoder struct {
	heads [NumWindows]windowHeads
}

// Output is the raw decoder result for one window.
type Output struct {
	Window Window
	// Reg is the scaled regression vector: respiration, coagulation, liver,
	// cardiovascular, cns, renal, hours_beforesepsis, hours_beforedeath.
	Reg   []float64
	Logit float64
}

func loadDecoder(arch Architecture, ts *tensorSet) (*Decoder, error) {
	d := &Decoder{}
	for w := 0; w < NumWindows; w++ {
		reg, err := ts.linear(fmt.Sprintf("reg_heads.%d", w), arch.DModel, arch.RegDim)
		if err != nil {
			return nil, err
		}
		bin, err := ts.linear(fmt.Sprintf("bin_heads.%d", w), arch.DModel, arch.BinDim)
		if err != nil {
			return nil, err
		}
		d.heads[w] = windowHeads{reg: reg, bin: bin}
	}
	return d, nil
}

// Decode projects the pooled vector through the heads of w. Out-of-range
// windows are clamped.
func (d *Decoder) Decode(pooled []float64, w Window) Output {
	w = w.Clamp()
	h := d.heads[w]
	return Output{
		Window: w,
		Reg:    h.reg.apply(pooled),
		Logit:  h.bin.apply(pooled)[0],
	}
}
