package lssec

import (
	"encoding/json"
	"strings"
)

// flexString accepts a JSON string or a bare number. LS responses mix the two
// for the same field depending on the TR.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return string(f) }
