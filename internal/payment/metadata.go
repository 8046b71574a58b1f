package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Metadata keys stored on provider objects.
const (
	metaUserID = "user_id"
	metaItems  = "items"

	// maxMetadataValue is Stripe's limit on a single metadata value.
	maxMetadataValue = 500
)

// EncodeItems renders items as "modID:price" pairs joined by commas,
// e.g. "3:9.99,5:4.50". Provider metadata values are flat strings.
func EncodeItems(items []LineItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, strconv.FormatInt(item.ModID, 10)+":"+item.Price.StringFixed(2))
	}
	return strings.Join(parts, ",")
}

// DecodeItems parses the output of EncodeItems.
func DecodeItems(s string) ([]LineItem, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var items []LineItem
	for _, part := range strings.Split(s, ",") {
		id, price, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("payment: malformed item %q", part)
		}
		modID, err := strconv.ParseInt(id, 10, 64)
		if err != nil || modID <= 0 {
			return nil, fmt.Errorf("payment: malformed mod id in %q", part)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("payment: malformed price in %q: %w", part, err)
		}
		items = append(items, LineItem{ModID: modID, Price: p})
	}
	return items, nil
}

// toMinorUnits converts a decimal amount to cents.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// fromMinorUnits converts cents to a decimal amount.
func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
