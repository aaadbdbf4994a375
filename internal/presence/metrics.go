package presence

import "github.com/prometheus/client_golang/prometheus"

var (
	onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presence_online_users",
		Help: "Number of users with a registered live connection.",
	})

	// op is one of register, unregister, drop.
	registryChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_changes_total",
		Help: "Presence registry mutations by operation.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(onlineUsers, registryChanges)
}
