package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// responseFrame is the reply encoding shared by all transports.
type responseFrame struct {
	Data []byte `json:"data,omitempty"`
	Err  string `json:"err,omitempty"`
}

// wellKnown errors keep their identity across a transport.
var wellKnown = []error{
	ErrEnvelopeExpired,
	ErrHandlerTimeout,
	ErrKeyRequired,
	ErrMissingKeyHeader,
	ErrUnknownKey,
}

func EncodeResponse(data []byte, err error) []byte {
	rf := responseFrame{Data: data}
	if err != nil {
		rf.Err = err.Error()
		rf.Data = nil
	}
	b, _ := json.Marshal(rf)
	return b
}

func DecodeResponse(b []byte) ([]byte, error) {
	var rf responseFrame
	if err := json.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rf.Err == "" {
		return rf.Data, nil
	}
	for _, known := range wellKnown {
		if rf.Err == known.Error() {
			return nil, known
		}
		if rest, ok := strings.CutPrefix(rf.Err, known.Error()+": "); ok {
			return nil, fmt.Errorf("%w: %s", known, rest)
		}
	}
	return nil, errors.New(rf.Err)
}
