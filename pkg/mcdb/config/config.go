package config

import (
	"os"
	"strconv"
	"sync"
)

var (
	txRetry     int
	txRetryOnce sync.Once
)

const minTxRetry = 3

// GetTxRetry is the number of times a transaction is attempted before its error is returned.
// MC_TX_RETRY raises it; values below minTxRetry are ignored.
func GetTxRetry() int {
	txRetryOnce.Do(func() {
		count, err := strconv.Atoi(os.Getenv("MC_TX_RETRY"))
		if err != nil || count < minTxRetry {
			count = minTxRetry
		}

		txRetry = count
	})

	return txRetry
}
