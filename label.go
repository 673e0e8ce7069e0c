package rccar

import (
	"fmt"
	"strings"
)

// Label is a steering class, both as recorded with training samples and as
// predicted by a model. The numeric values are the class indices used in
// stored samples and in score vectors.
type Label int

// Steering labels, in class index order.
const (
	Left Label = iota
	Right
	Straight
)

// NumLabels is the number of steering classes a model must score.
const NumLabels = 3

// Labels returns all labels in class index order.
func Labels() []Label {
	return []Label{Left, Right, Straight}
}

// String returns the lowercase name of the label, as used in model label
// lists and HTTP commands.
func (l Label) String() string {
	switch l {
	case Left:
		return "left"
	case Right:
		return "right"
	case Straight:
		return "straight"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	return l >= Left && l <= Straight
}

// ParseLabel parses a label name, case-insensitively.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "straight":
		return Straight, nil
	}
	return 0, fmt.Errorf("unknown label %q", s)
}

// MarshalText implements encoding.TextMarshaler, so labels show by name in
// JSON.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid label %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(buf []byte) error {
	v, err := ParseLabel(string(buf))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
