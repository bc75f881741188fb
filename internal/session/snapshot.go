package session

import "math"

// Item is one piece of protective equipment the detector reports on.
type Item int

const (
	Helmet Item = iota
	Glasses
	Vest
	Gloves
)

// ItemCount is the size of the closed equipment set.
const ItemCount = 4

// Items lists the equipment set in display order.
var Items = [ItemCount]Item{Helmet, Glasses, Vest, Gloves}

func (i Item) String() string {
	switch i {
	case Helmet:
		return "helmet"
	case Glasses:
		return "glasses"
	case Vest:
		return "vest"
	case Gloves:
		return "gloves"
	default:
		return "unknown"
	}
}

// Snapshot is one point-in-time compliance report. It is a value: callers
// replace it wholesale and never mutate a stored copy.
type Snapshot struct {
	PersonPresent bool
	Items         [ItemCount]bool
}

// Detected reports whether item was seen.
func (s Snapshot) Detected(item Item) bool {
	if item < 0 || int(item) >= ItemCount {
		return false
	}
	return s.Items[item]
}

func (s Snapshot) CompliantCount() int {
	count := 0
	for _, detected := range s.Items {
		if detected {
			count++
		}
	}
	return count
}

func (s Snapshot) IsFullyCompliant() bool {
	return s.CompliantCount() == ItemCount
}

// Percent is the compliant share rounded to a whole percentage.
func (s Snapshot) Percent() int {
	return int(math.Round(float64(s.CompliantCount()) / float64(ItemCount) * 100))
}

// IsZero reports the all-absent snapshot.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}
