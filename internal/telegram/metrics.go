package telegram

import "github.com/prometheus/client_golang/prometheus"

// updatesTotal counts inbound updates by kind.
var updatesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ideabot_telegram_updates_total",
		Help: "Inbound Telegram updates by kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(updatesTotal)
}
