package telephony

import "errors"

// ErrNotConnected is returned by SendText and SendAudio when the sink has
// left the connected state. Callers on the shutdown path should treat it as
// benign.
var ErrNotConnected = errors.New("telephony: sink is not connected")
