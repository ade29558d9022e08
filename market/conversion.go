package market

import "fmt"

// QuoteToAccountRate converts one unit of the instrument's quote
// currency into the account currency. mid is the instrument's current
// mid price, used when the account currency is the base.
func QuoteToAccountRate(instrument, accountCurrency string, mid float64) (float64, error) {
	meta, ok := Instruments[instrument]
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", instrument)
	}

	// quote currency == account currency (EUR_USD, XAU_USD with USD)
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// account currency is base (USD_JPY with USD)
	if meta.BaseCurrency == accountCurrency {
		if mid <= 0 {
			return 0, fmt.Errorf("no price for %s", instrument)
		}
		return 1.0 / mid, nil
	}

	return 0, fmt.Errorf("cross conversion not implemented for %s → %s", meta.QuoteCurrency, accountCurrency)
}
