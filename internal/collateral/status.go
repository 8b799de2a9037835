package collateral

import "fmt"

// Status is the soundness of a collateral asset. Transitions only ever
// happen inside Refresh; Defaulted is terminal.
type Status int

const (
	StatusSound Status = iota
	StatusIffy
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusSound:
		return "SOUND"
	case StatusIffy:
		return "IFFY"
	case StatusDefaulted:
		return "DEFAULT"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus is the inverse of String, used when restoring persisted state.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "SOUND":
		return StatusSound, nil
	case "IFFY":
		return StatusIffy, nil
	case "DEFAULT":
		return StatusDefaulted, nil
	default:
		return StatusSound, fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("status must be a string, got %s", data)
	}
	parsed, err := ParseStatus(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
