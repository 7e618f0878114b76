package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteID is an identifier issued by the remote cart service. The service is not
// consistent about encoding ids as numbers or strings, so both are accepted; null
// and absent decode to the empty id.
type RemoteID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *RemoteID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}

	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*id = RemoteID(strings.TrimSpace(raw))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("remote id must be a string or number: %w", err)
	}
	*id = RemoteID(num.String())
	return nil
}

// String implements fmt.Stringer.
func (id RemoteID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty.
func (id RemoteID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}
