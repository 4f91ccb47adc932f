package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const unlimitedToken = "unlimited"

// Limit bounds a countable resource. A limit is either a finite
// non-negative count or unlimited; there is no sentinel integer for
// "no limit". The zero value is a finite limit of zero.
type Limit struct {
	unlimited bool
	value     int64
}

// Finite returns a limit of exactly n resources.
func Finite(n int64) Limit {
	return Limit{value: n}
}

// Unlimited returns a limit that permits any usage.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited reports whether the limit permits any usage.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite bound. ok is false for unlimited limits,
// in which case the returned count is meaningless.
func (l Limit) Value() (int64, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.value, true
}

// Allows reports whether one more resource may be created given the
// current usage count.
func (l Limit) Allows(used int64) bool {
	if l.unlimited {
		return true
	}
	return used < l.value
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedToken
	}
	return strconv.FormatInt(l.value, 10)
}

func (l *Limit) parse(raw string) error {
	if strings.EqualFold(raw, unlimitedToken) {
		*l = Unlimited()
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLimit, n)
	}
	*l = Finite(n)
	return nil
}

// MarshalYAML encodes the limit as "unlimited" or a non-negative integer.
func (l Limit) MarshalYAML() (any, error) {
	if l.unlimited {
		return unlimitedToken, nil
	}
	return l.value, nil
}

// UnmarshalYAML accepts "unlimited" (any case) or a non-negative integer.
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: limit must be a scalar", ErrInvalidLimit)
	}
	return l.parse(node.Value)
}

// MarshalJSON encodes the limit as "unlimited" or a non-negative integer.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedToken)
	}
	return json.Marshal(l.value)
}

// UnmarshalJSON accepts "unlimited" (any case) or a non-negative integer.
func (l *Limit) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return l.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLimit, string(b))
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLimit, n)
	}
	*l = Finite(n)
	return nil
}
