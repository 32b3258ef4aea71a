package board

import (
	"bytes"
	"fmt"

	"github.com/antonholmquist/jason"

	"github.com/mklimuk/timeswipe"
)

// ParseEvents decodes the firmware event report, for example
// {"Button":true,"ButtonStateCnt":3}. An empty report has no events.
func ParseEvents(data []byte) ([]timeswipe.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("invalid event report %q: %w", data, err)
	}
	button, err := obj.GetBoolean("Button")
	if err != nil {
		// no button information in this report
		return nil, nil
	}
	counter, err := obj.GetInt64("ButtonStateCnt")
	if err != nil {
		return nil, fmt.Errorf("button event without counter: %w", err)
	}
	return []timeswipe.Event{{Button: button, ButtonCounter: int(counter)}}, nil
}
