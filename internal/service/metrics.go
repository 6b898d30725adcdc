package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_blocks_committed_total",
		Help: "Ledger blocks committed, labeled by transaction kind",
	}, []string{"kind"})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coinledger_chain_height",
		Help: "Number of blocks in the token ledger chain",
	})
)
