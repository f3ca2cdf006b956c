package broker

import "errors"

var (
	errRateUnavailable  = errors.New("broker: fx rate unavailable")
	errPriceUnavailable = errors.New("broker: last price unavailable")
)
