package inventory

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type StockItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Available int    `json:"available"`
}

type Line struct {
	ProductID string
	Quantity  int
}

func (l Line) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ProductID, validation.Required),
		validation.Field(&l.Quantity, validation.Required, validation.Min(1)),
	)
}

// invalidLineReason describes the first line that no valid order could
// contain, or returns "" when every line is usable.
func invalidLineReason(lines []Line) string {
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return fmt.Sprintf("Invalid line for product %s: %v", l.ProductID, err)
		}
	}
	return ""
}

// mergeLines sums quantities per product, keeping the order in which
// products first appear.
func mergeLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

type DepletedLine struct {
	ProductID string
	Requested int
	Available int
}

type ReserveResult struct {
	Reserved []Line
	Depleted []DepletedLine
}

// Validation is the answer to a ValidateInventory command.
type Validation struct {
	Valid  bool
	Reason string
}

// Reservation is the answer to a ReserveInventory command. Failures are
// outcomes, never errors.
type Reservation struct {
	Success bool
	Reason  string
}
