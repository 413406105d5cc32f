package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// amountFlag is a decimal flag that remembers whether it was given.
type amountFlag struct {
	value decimal.Decimal
	set   bool
}

func (f *amountFlag) String() string {
	if f == nil || !f.set {
		return ""
	}
	return f.value.String()
}

func (f *amountFlag) Set(raw string) error {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %q", raw)
	}
	f.value = v
	f.set = true
	return nil
}

func (f *amountFlag) ptr() *decimal.Decimal {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}
