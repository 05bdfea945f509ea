package strategy

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Modes is the closed set of strategy variants a runner can be started with.
var Modes = []string{"scalp", "revert", "momentum"}

// New builds the strategy for mode, decoding params (from the parameter
// registry) into the mode's own config struct. The variant is selected once
// here; runners never branch on the mode string again.
func New(mode string, params map[string]any) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "scalp":
		var p ScalpParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewScalp(p), nil
	case "revert":
		var p RevertParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewRevert(p), nil
	case "momentum":
		var p MomentumParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMomentum(p), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}

func IsValidMode(mode string) bool {
	mode = strings.ToLower(strings.TrimSpace(mode))
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decoding strategy params failed: %w", err)
	}
	return nil
}
