package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_connections_total",
			Help: "Total number of accepted device connections.",
		},
		[]string{"service"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airsync_connections_active",
			Help: "Number of currently open device connections.",
		},
		[]string{"service"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_messages_received_total",
			Help: "Total number of dispatched inbound messages.",
		},
		[]string{"service", "type"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_messages_sent_total",
			Help: "Total number of outbound messages written.",
		},
		[]string{"service"},
	)

	TransferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_transfer_bytes_total",
			Help: "File transfer payload bytes moved.",
		},
		[]string{"service", "direction"},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_transfers_total",
			Help: "Completed file transfers by direction and result.",
		},
		[]string{"service", "direction", "result"},
	)
)

var registerOnce sync.Once

// MustRegister curries every collector with the service label and registers
// them with the default registry. Safe to call more than once; the first
// caller's service name wins.
func MustRegister(serviceName string) {
	registerOnce.Do(func() { register(serviceName) })
}

func register(serviceName string) {
	ConnectionsTotal = ConnectionsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ConnectionsActive = ConnectionsActive.MustCurryWith(prometheus.Labels{"service": serviceName})
	MessagesReceivedTotal = MessagesReceivedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	MessagesSentTotal = MessagesSentTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	TransferBytesTotal = TransferBytesTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	TransfersTotal = TransfersTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		MessagesReceivedTotal,
		MessagesSentTotal,
		TransferBytesTotal,
		TransfersTotal,
	)
}
