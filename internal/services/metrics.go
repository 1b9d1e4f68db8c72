package services

import "github.com/prometheus/client_golang/prometheus"

// Result labels shared by the ledger collectors.
const (
	resultOK        = "ok"
	resultDuplicate = "duplicate"
	resultNotFound  = "not_found"
	resultError     = "error"
	resultSkipped   = "skipped"
	resultReplayed  = "replayed"
)

var (
	// votesTotal counts vote mutations by operation (cast/remove) and result.
	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideabot_votes_total",
			Help: "Vote ledger operations by outcome.",
		},
		[]string{"op", "result"},
	)

	// paymentsTotal counts payment reconciliations; "replayed" marks a
	// redelivered charge id.
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideabot_payments_total",
			Help: "Payment reconciliations by outcome.",
		},
		[]string{"result"},
	)

	// channelSyncTotal counts channel re-render attempts.
	channelSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideabot_channel_sync_total",
			Help: "Channel tally re-render attempts by outcome.",
		},
		[]string{"result"},
	)

	// dialogTotal counts dialog provider calls.
	dialogTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideabot_dialog_requests_total",
			Help: "Dialog provider calls by provider and outcome.",
		},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(votesTotal, paymentsTotal, channelSyncTotal, dialogTotal)
}
