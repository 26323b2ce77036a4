package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxPrice is the largest accepted price, 999.99.
const MaxPrice Price = 99999

// Price is a non-negative amount with two fractional digits, stored as a
// whole number of cents so it round-trips exactly through any database.
//
// JSON output is a decimal string ("5.00"), which keeps clients from turning
// it into a float. JSON input accepts either a number (5, 5.5) or a string.
type Price int64

// ErrPriceFormat is returned for any price that is not a decimal in [0, 999.99]
// with at most two fractional digits.
var ErrPriceFormat = errors.New("a valid number with at most 3 digits before and 2 after the decimal point is required")

// ParsePrice parses a decimal such as "5", "5.5" or "12.99".
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrPriceFormat
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || len(whole) > 3 || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, ErrPriceFormat
	}

	w, err := strconv.ParseUint(whole, 10, 16)
	if err != nil {
		return 0, ErrPriceFormat
	}

	var f uint64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		if f, err = strconv.ParseUint(frac, 10, 8); err != nil {
			return 0, ErrPriceFormat
		}
	}

	p := Price(w*100 + f)
	if p > MaxPrice {
		return 0, ErrPriceFormat
	}
	return p, nil
}

// String formats the price with exactly two decimals.
func (p Price) String() string {
	return fmt.Sprintf("%d.%02d", int64(p)/100, int64(p)%100)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return ErrPriceFormat
		}
	}
	v, err := ParsePrice(raw)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
