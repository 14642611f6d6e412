package ambarpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "messages_received_total",
		Namespace: "amba_rpc",
		Help:      "number of decoded messages by msg_id",
	}, []string{"msg_id"})
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "events_total",
		Namespace: "amba_rpc",
		Help:      "number of status events by type",
	}, []string{"type"})
	rpcErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rpc_errors_total",
		Namespace: "amba_rpc",
		Help:      "number of responses with a nonzero rval",
	}, []string{"msg_id"})
	waitTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "timeouts_total",
		Namespace: "amba_rpc",
		Help:      "number of waits that hit their deadline",
	}, []string{"msg_id"})
	desyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "desync_total",
		Namespace: "amba_rpc",
		Help:      "number of times the receive buffer could not be parsed as JSON",
	})
	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "handler_failures_total",
		Namespace: "amba_rpc",
		Help:      "number of subscriber handlers that returned an error or panicked",
	}, []string{"channel"})
)
