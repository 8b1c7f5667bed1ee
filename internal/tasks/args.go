package tasks

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeArgs decodes a job's argument map into a typed struct. Task
// implementations use it to validate their inputs up front; unknown keys
// are rejected so argument typos fail loudly.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "args",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("building args decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}
