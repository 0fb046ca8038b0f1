package mathx_test

import (
	"fmt"
	"testing"

	"github.com/hcitlab/afetest/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(0.12345, 0.001))
	// Output: 0.123
}

func TestRoundNegative(t *testing.T) {
	got := mathx.Round(-0.0126, 0.001)
	if got < -0.01301 || got > -0.01299 {
		t.Errorf("expected -0.013 got %v", got)
	}
}
