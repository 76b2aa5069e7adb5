package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_appended_total",
		Help: "Messages appended to channel logs",
	})
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_active_subscriptions",
		Help: "Live subscriptions registered with the broker",
	})
	FanoutDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_fanout_deliveries_total",
		Help: "Messages enqueued to subscriber buffers",
	})
	SubscriptionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_subscriptions_closed_total",
		Help: "Subscriptions closed, by reason",
	}, []string{"reason"})
	SubscriptionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_subscriptions_rejected_total",
		Help: "Subscription attempts rejected by the membership check",
	})
	RelayErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Errors publishing or decoding relayed messages",
	})
	RelayDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_total",
		Help: "Messages not relayed because the outbound queue was full",
	})
)

// MustRegister registers all collectors with registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesAppended,
		ActiveSubscriptions,
		FanoutDeliveries,
		SubscriptionsClosed,
		SubscriptionsRejected,
		RelayErrors,
		RelayDropped,
	)
}

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
