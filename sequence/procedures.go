package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/mathx"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/tolerance"
)

// identAmpCode is the amplifier code used while identifying boards
const identAmpCode = 38

// Procedures maps each kind to the procedure that measures it
var Procedures = map[Kind]Procedure{
	KindBoardID:          identifyBoard,
	KindNoise:            measureNoise,
	KindGain:             measureGain,
	KindGainLow:          measureGainLow,
	KindBandwidth:        measureBandwidth,
	KindLimiterBandwidth: measureLimiterBandwidth,
	KindVCANoise:         measureVCANoise,
	KindVCAGain:          measureVCAGain,
	KindVCAGainLow:       measureVCAGainLow,
	KindVCABandwidth:     measureVCABandwidth,
	KindADC:              measureADC,
}

// requirements lists what each kind drives, so a short bench is reported
// before anything is touched
func (b Bench) check(k Kind) error {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	need(b.Acq != nil || k == KindADC, "acquisition")
	switch k {
	case KindBoardID, KindGain, KindGainLow, KindBandwidth, KindLimiterBandwidth:
		need(b.Gen != nil, "generator")
		need(b.Lines != nil, "digital lines")
		need(b.Att != nil, "attenuator")
		need(b.Amp != nil, "amplifier")
		need(b.Mux != nil, "multiplexer")
	case KindNoise:
		need(b.Gen != nil, "generator")
		need(b.Lines != nil, "digital lines")
		need(b.Amp != nil, "amplifier")
		need(b.Mux != nil, "multiplexer")
	case KindVCANoise, KindVCAGain, KindVCABandwidth:
		need(b.Gen != nil, "generator")
		need(b.Lines != nil, "digital lines")
		need(b.Mux != nil, "multiplexer")
	case KindVCAGainLow:
		need(b.Lines != nil, "digital lines")
	case KindADC:
		need(b.Gen != nil, "generator")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bench has no %s for %s tests", strings.Join(missing, ", "), k)
	}
	return nil
}

func identifyBoard(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	b := e.Bench
	path := def.Path
	if path == "" {
		path = "ES_MAIN"
	}
	err := run(
		func() error { return b.Att.SetAttenuation(e.Params.InputAttenuation) },
		func() error { return b.Mux.SetPath(path) },
		func() error { return e.sleep(ctx, 100*time.Millisecond) },
		func() error { return b.Gen.GeneratorOutput(true) },
		func() error { return b.Lines.SetPin(redpitaya.ADCSelect, true) },
		func() error { return b.Lines.SetPin(redpitaya.SSGainLow, false) },
		func() error { return b.Lines.SetPin(redpitaya.PreampPower, true) },
		func() error { return b.Amp.SetGainCode(identAmpCode) },
	)
	if err != nil {
		return tolerance.Metric{}, err
	}
	responses := make([]float64, len(Boards))
	for i, cand := range Boards {
		if err := b.Gen.SetSine(cand.IDFreq, e.Params.Amplitude); err != nil {
			return tolerance.Metric{}, err
		}
		buf, err := e.settled(ctx, e.Params.IDThreshold)
		switch {
		case errors.Is(err, redpitaya.ErrSettleTimeout):
			e.Log.Warn("candidate did not settle", "board", cand.Name, "freq", cand.IDFreq)
			responses[i] = math.NaN()
			continue
		case err != nil:
			return tolerance.Metric{}, err
		}
		responses[i] = mathx.Round(buf.RMS(), 0.001)
	}
	e.Log.Info("board candidates", "names", boardNames(), "rms", responses)

	board, err := Identify(responses, Boards)
	if err != nil {
		return tolerance.Metric{}, err
	}
	if best := responses[board.Index]; best < e.Params.MinIDLevel {
		return tolerance.Metric{}, fmt.Errorf("%w: best response %.3f V at %s is below %.3f V",
			ErrNoBoard, best, board.Name, e.Params.MinIDLevel)
	}
	if m := margin(responses); m < 0.1 {
		e.Log.Warn("board identification is marginal", "board", board.Name, "margin", m)
	}
	e.Board = &board
	return tolerance.Label(board.Name), nil
}

func boardNames() []string {
	out := make([]string, len(Boards))
	for i, b := range Boards {
		out[i] = b.Name
	}
	return out
}

func measureNoise(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	brd, err := e.board()
	if err != nil {
		return tolerance.Metric{}, err
	}
	b := e.Bench
	err = run(
		func() error { return b.Mux.SetPath(def.Path) },
		func() error { return b.Gen.GeneratorOutput(false) },
		func() error { return b.Lines.SetPin(redpitaya.SSGainLow, true) },
		func() error { return b.Amp.SetGainCode(brd.NoiseGainCode) },
		func() error { return e.sleep(ctx, 500*time.Millisecond) },
	)
	if err != nil {
		return tolerance.Metric{}, err
	}
	buf, err := e.settled(ctx, e.Params.SettleThreshold)
	if err != nil {
		return tolerance.Metric{}, err
	}
	y, err := dsp.LowPass(buf.Samples(), brd.NoiseCutoff, buf.SampleRate(), e.Params.NoiseFilterOrder)
	if err != nil {
		return tolerance.Metric{}, err
	}
	return tolerance.Scalar(dsp.RMS(dsp.VoltageDividerPre(y))), nil
}

// gainAt drives the board at freq and returns its gain for input level vin
func gainAt(ctx context.Context, e *Env, freq, vin float64, gainLow bool, code int) (float64, error) {
	b := e.Bench
	err := run(
		func() error { return b.Gen.SetSine(freq, e.Params.Amplitude) },
		func() error { return b.Gen.GeneratorOutput(true) },
		func() error { return e.sleep(ctx, 200*time.Millisecond) },
		func() error { return b.Lines.SetPin(redpitaya.SSGainLow, gainLow) },
		func() error { return b.Amp.SetGainCode(code) },
		func() error { return e.sleep(ctx, 200*time.Millisecond) },
	)
	if err != nil {
		return 0, err
	}
	buf, err := e.settled(ctx, e.Params.SettleThreshold)
	if err != nil {
		return 0, err
	}
	return dsp.RatioDB(vin, buf.RMS()), nil
}

// gainSetup is the common front of the tiny gain tests
func gainSetup(e *Env, def Definition, atten int) (Board, error) {
	brd, err := e.board()
	if err != nil {
		return brd, err
	}
	err = run(
		func() error { return e.Bench.Att.SetAttenuation(atten) },
		func() error { return e.Bench.Mux.SetPath(def.Path) },
	)
	return brd, err
}

func measureGain(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	brd, err := gainSetup(e, def, e.Params.InputAttenuation)
	if err != nil {
		return tolerance.Metric{}, err
	}
	g, err := gainAt(ctx, e, brd.Mid, e.Params.input(e.Params.InputAttenuation), false, brd.GainCode)
	if err != nil {
		return tolerance.Metric{}, err
	}
	return tolerance.Scalar(g), nil
}

func measureGainLow(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	brd, err := gainSetup(e, def, e.Params.InputAttenuation)
	if err != nil {
		return tolerance.Metric{}, err
	}
	g, err := gainAt(ctx, e, brd.Mid, e.Params.input(e.Params.InputAttenuation), true, brd.GainCode)
	if err != nil {
		return tolerance.Metric{}, err
	}
	return tolerance.Scalar(mathx.Round(g, 1e-6)), nil
}

// bandwidth is the mid band gain followed by the drop at each edge
func bandwidth(ctx context.Context, e *Env, freqs [3]float64, vin float64, gainLow bool, code int) (tolerance.Metric, error) {
	var out [3]float64
	for i, f := range freqs {
		g, err := gainAt(ctx, e, f, vin, gainLow, code)
		if err != nil {
			return tolerance.Metric{}, err
		}
		if i == 0 {
			out[0] = g
		} else {
			out[i] = out[0] - g
		}
	}
	return tolerance.Vector(out[:]...), nil
}

func measureBandwidth(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	brd, err := gainSetup(e, def, e.Params.InputAttenuation)
	if err != nil {
		return tolerance.Metric{}, err
	}
	freqs := [3]float64{brd.Mid, brd.LowEdge, brd.HighEdge}
	return bandwidth(ctx, e, freqs, e.Params.input(e.Params.InputAttenuation), false, brd.GainCode)
}

func measureLimiterBandwidth(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	brd, err := gainSetup(e, def, e.Params.LimiterAttenuation)
	if err != nil {
		return tolerance.Metric{}, err
	}
	freqs := [3]float64{brd.Mid, brd.LimLowEdge, brd.LimHighEdge}
	return bandwidth(ctx, e, freqs, e.Params.limiterInput(), true, brd.GainCode)
}

// VCAFrequencies are the low edge, high edge and mid band frequencies per family
var VCAFrequencies = map[frontend.Family][3]float64{
	frontend.ES: {110000, 380000, 250000},
	frontend.SS: {175000, 1100000, 500000},
}

// vcaSetup routes the family's output and programs its VCA
func vcaSetup(ctx context.Context, e *Env, def Definition, gen bool, code func(VCA) error) (VCA, error) {
	v, err := e.vca(def.Family)
	if err != nil {
		return nil, err
	}
	b := e.Bench
	err = run(
		func() error { return b.Mux.SetPath(def.Path) },
		func() error { return e.sleep(ctx, 100*time.Millisecond) },
		func() error { return b.Gen.GeneratorOutput(gen) },
		v.Init,
		func() error { return code(v) },
	)
	return v, err
}

func (e *Env) vcaGain(ctx context.Context, freq float64) (float64, error) {
	if err := e.Bench.Gen.SetSine(freq, e.Params.Amplitude); err != nil {
		return 0, err
	}
	if err := e.sleep(ctx, 100*time.Millisecond); err != nil {
		return 0, err
	}
	buf, err := e.single(ctx)
	if err != nil {
		return 0, err
	}
	return dsp.RatioDB(e.Params.vcaInput(), outputRMS(buf)), nil
}

func measureVCANoise(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	b := e.Bench
	err := run(
		func() error { return b.Gen.GeneratorOutput(false) },
		func() error { return b.Lines.SetPin(redpitaya.PreampPower, true) },
		func() error { return b.Lines.SetPin(redpitaya.ESGainLow, false) },
		func() error { return b.Lines.SetPin(redpitaya.SSGainLow, false) },
	)
	if err != nil {
		return tolerance.Metric{}, err
	}
	if b.Att != nil {
		if err := b.Att.SetAttenuation(e.Params.VCAAttenuation); err != nil {
			return tolerance.Metric{}, err
		}
	}
	_, err = vcaSetup(ctx, e, def, false, func(v VCA) error { return v.SetGainCode(frontend.MaxGainCode) })
	if err != nil {
		return tolerance.Metric{}, err
	}
	buf, err := e.single(ctx)
	if err != nil {
		return tolerance.Metric{}, err
	}
	return tolerance.Scalar(outputRMS(buf)), nil
}

func measureVCAGain(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	_, err := vcaSetup(ctx, e, def, true, func(v VCA) error { return v.SetGainDB(def.GainDB) })
	if err != nil {
		return tolerance.Metric{}, err
	}
	g, err := e.vcaGain(ctx, VCAFrequencies[def.Family][2])
	if err != nil {
		return tolerance.Metric{}, err
	}
	return tolerance.Scalar(g), nil
}

func measureVCAGainLow(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	pin := gainLowPin(def.Family)
	if err := e.Bench.Lines.SetPin(pin, true); err != nil {
		return tolerance.Metric{}, err
	}
	m, err := func() (tolerance.Metric, error) {
		if err := e.sleep(ctx, 200*time.Millisecond); err != nil {
			return tolerance.Metric{}, err
		}
		return measureVCAGain(ctx, e, def)
	}()
	if rerr := e.Bench.Lines.SetPin(pin, false); rerr != nil && err == nil {
		err = rerr
	}
	return m, err
}

func measureVCABandwidth(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	_, err := vcaSetup(ctx, e, def, true, func(v VCA) error { return v.SetGainDB(def.GainDB) })
	if err != nil {
		return tolerance.Metric{}, err
	}
	freqs := VCAFrequencies[def.Family]
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		if out[i], err = e.vcaGain(ctx, f); err != nil {
			return tolerance.Metric{}, err
		}
	}
	return tolerance.Vector(out...), nil
}

func measureADC(ctx context.Context, e *Env, def Definition) (tolerance.Metric, error) {
	adc, ok := e.Bench.ADCs[def.ADC]
	if !ok || adc == nil {
		return tolerance.Metric{}, fmt.Errorf("no ADC%d on the bench", def.ADC)
	}
	v, err := e.vca(def.Family)
	if err != nil {
		return tolerance.Metric{}, err
	}
	err = run(
		func() error { return e.Bench.Gen.GeneratorOutput(false) },
		v.Init,
		func() error { return v.SetGainCode(0) },
		func() error { return e.sleep(ctx, 100*time.Millisecond) },
	)
	if err != nil {
		return tolerance.Metric{}, err
	}
	reads := e.Params.ADCReads
	if reads < 1 {
		reads = 1
	}
	var code int
	for i := 0; i < reads; i++ {
		if code, err = adc.ReadRegister(); err != nil {
			return tolerance.Metric{}, err
		}
	}
	return tolerance.Scalar(frontend.Volts(code)), nil
}
