package presence

import (
	"encoding/json"
)

// Status is the three-valued availability indicator shown for an agent.
type Status int

const (
	Available Status = iota
	Busy
	Away
)

var statusNames = map[Status]string{
	Available: "available",
	Busy:      "busy",
	Away:      "away",
}

var statusFromName = map[string]Status{
	"available": Available,
	"busy":      Busy,
	"away":      Away,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus maps a wire string to a Status. The second return is false
// for strings outside the three known values.
func ParseStatus(name string) (Status, bool) {
	s, ok := statusFromName[name]
	return s, ok
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}
