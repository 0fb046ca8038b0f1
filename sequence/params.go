package sequence

import (
	"math"
	"time"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/redpitaya"
)

// Params are the stimulus and measurement constants the procedures use
type Params struct {
	// Arm is applied at the start of every run
	Arm redpitaya.ArmConfig `koanf:"arm" yaml:"arm" json:"arm"`

	// Amplitude is the generator amplitude in Volts
	Amplitude float64 `koanf:"amplitude" yaml:"amplitude" json:"amplitude"`

	// InputAttenuation is the attenuator setting in dB for gain tests
	InputAttenuation int `koanf:"input_attenuation" yaml:"input_attenuation" json:"inputAttenuation"`

	// LimiterAttenuation is the attenuator setting for limiter tests
	LimiterAttenuation int `koanf:"limiter_attenuation" yaml:"limiter_attenuation" json:"limiterAttenuation"`

	// PathLoss is the fixed loss in dB between generator and board input
	PathLoss float64 `koanf:"path_loss" yaml:"path_loss" json:"pathLoss"`

	// LimiterLoss is the extra loss in dB ahead of the limiter
	LimiterLoss float64 `koanf:"limiter_loss" yaml:"limiter_loss" json:"limiterLoss"`

	// IDThreshold is the settle threshold in Volts during identification
	IDThreshold float64 `koanf:"id_threshold" yaml:"id_threshold" json:"idThreshold"`

	// MinIDLevel is the smallest best-candidate RMS that counts as a board
	MinIDLevel float64 `koanf:"min_id_level" yaml:"min_id_level" json:"minIdLevel"`

	// SettleThreshold is the settle threshold in Volts for measurements
	SettleThreshold float64 `koanf:"settle_threshold" yaml:"settle_threshold" json:"settleThreshold"`

	// SettleWindow is the number of samples compared at each end of a capture
	SettleWindow int `koanf:"settle_window" yaml:"settle_window" json:"settleWindow"`

	// SettleAttempts bounds the captures made while settling
	SettleAttempts int `koanf:"settle_attempts" yaml:"settle_attempts" json:"settleAttempts"`

	// SettleTimeoutFails records a NaN metric, and so a failure, when the
	// signal does not settle.  Otherwise the timeout is a procedure error.
	SettleTimeoutFails bool `koanf:"settle_timeout_fails" yaml:"settle_timeout_fails" json:"settleTimeoutFails"`

	// NoiseFilterOrder is the Butterworth order applied before noise RMS
	NoiseFilterOrder int `koanf:"noise_filter_order" yaml:"noise_filter_order" json:"noiseFilterOrder"`

	// VCAInput is the VCA suite's input level in Volts before path loss
	VCAInput float64 `koanf:"vca_input" yaml:"vca_input" json:"vcaInput"`

	// VCAAttenuation is the attenuator setting for the VCA suite
	VCAAttenuation int `koanf:"vca_attenuation" yaml:"vca_attenuation" json:"vcaAttenuation"`

	// ADCReads is how many times a converter is read; the last read counts
	ADCReads int `koanf:"adc_reads" yaml:"adc_reads" json:"adcReads"`

	// EdgeCapture makes single captures wait for a rising edge instead of
	// triggering immediately
	EdgeCapture bool `koanf:"edge_capture" yaml:"edge_capture" json:"edgeCapture"`

	// DelayScale multiplies every fixture settling delay.  0 disables them.
	DelayScale float64 `koanf:"delay_scale" yaml:"delay_scale" json:"delayScale"`
}

// DefaultParams are the bench calibration values
func DefaultParams() Params {
	return Params{
		Arm:                redpitaya.ArmConfig{Decimation: 32, TriggerLevel: 0.2, TriggerChannel: 1},
		Amplitude:          0.1,
		InputAttenuation:   5,
		LimiterAttenuation: 30,
		PathLoss:           40,
		LimiterLoss:        20,
		IDThreshold:        0.1,
		MinIDLevel:         0.3,
		SettleThreshold:    0.05,
		SettleWindow:       100,
		SettleAttempts:     redpitaya.DefaultSettleAttempts,
		SettleTimeoutFails: true,
		NoiseFilterOrder:   5,
		VCAInput:           0.07,
		VCAAttenuation:     8,
		ADCReads:           10,
		DelayScale:         1,
	}
}

// delay scales a fixture settling time
func (p Params) delay(d time.Duration) time.Duration {
	if p.DelayScale <= 0 {
		return 0
	}
	return time.Duration(float64(d) * p.DelayScale)
}

// input is the stimulus level at the board for the given attenuation
func (p Params) input(atten int) float64 {
	v := p.Amplitude / math.Sqrt2 / dsp.DBRatio(p.PathLoss) / dsp.DBRatio(float64(atten))
	return math.Round(v*1e6) / 1e6
}

// limiterInput is the stimulus level at the limiter
func (p Params) limiterInput() float64 {
	return p.Amplitude / math.Sqrt2 / dsp.DBRatio(p.PathLoss) / dsp.DBRatio(float64(p.LimiterAttenuation)) / dsp.DBRatio(p.LimiterLoss)
}

func (p Params) vcaInput() float64 { return p.VCAInput / dsp.DBRatio(p.PathLoss) }
