package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	listenersActive   *prometheus.GaugeVec
	dispatchTotal     *prometheus.CounterVec
	deliveryErrors    *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec
	notificationDrops *prometheus.CounterVec

	commandTotal    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	connectionState  *prometheus.GaugeVec
	permissionTotal  *prometheus.CounterVec
	gatewayClients   prometheus.Gauge
	gatewayAuthFails prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			listenersActive: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "bridge_listeners_active",
					Help: "Registered listeners by category.",
				},
				[]string{"category"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_dispatch_total",
					Help: "Listener fanouts by category and kind (next, success, error).",
				},
				[]string{"category", "kind"},
			),
			deliveryErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_delivery_errors_total",
					Help: "Failed listener deliveries by category and outcome.",
				},
				[]string{"category", "outcome"},
			),
			notificationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_notifications_total",
					Help: "Decoded broadcast notifications by action.",
				},
				[]string{"action"},
			),
			notificationDrops: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_notifications_dropped_total",
					Help: "Malformed broadcast notifications dropped by action.",
				},
				[]string{"action"},
			),
			commandTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_commands_total",
					Help: "Transport commands by method and status.",
				},
				[]string{"method", "status"},
			),
			commandDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bridge_command_duration_seconds",
					Help:    "Time until a command handler returned, by method.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method"},
			),
			connectionState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "bridge_connection_bound",
					Help: "Host binding state (1 bound, 0 not bound).",
				},
				[]string{"host"},
			),
			permissionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_permission_requests_total",
					Help: "Permission negotiations by outcome.",
				},
				[]string{"outcome"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients_connected",
					Help: "Currently connected websocket clients.",
				},
			),
			gatewayAuthFails: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gateway_auth_failures_total",
					Help: "Failed gateway challenge responses.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.listenersActive,
			m.dispatchTotal,
			m.deliveryErrors,
			m.notificationTotal,
			m.notificationDrops,
			m.commandTotal,
			m.commandDuration,
			m.connectionState,
			m.permissionTotal,
			m.gatewayClients,
			m.gatewayAuthFails,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetListeners(category string, count int) {
	getMetrics().listenersActive.WithLabelValues(category).Set(float64(count))
}

func RecordDispatch(category, kind string) {
	getMetrics().dispatchTotal.WithLabelValues(category, kind).Inc()
}

// RecordDeliveryError counts a failed delivery. Outcome is "pruned" when the
// listener was removed because its transport went away.
func RecordDeliveryError(category, outcome string) {
	getMetrics().deliveryErrors.WithLabelValues(category, outcome).Inc()
}

func RecordNotification(action string) {
	getMetrics().notificationTotal.WithLabelValues(action).Inc()
}

func RecordNotificationDropped(action string) {
	getMetrics().notificationDrops.WithLabelValues(action).Inc()
}

func RecordCommand(method string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.commandTotal.WithLabelValues(method, status).Inc()
	m.commandDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func SetConnectionBound(host string, bound bool) {
	value := 0.0
	if bound {
		value = 1.0
	}
	getMetrics().connectionState.WithLabelValues(host).Set(value)
}

func RecordPermissionRequest(outcome string) {
	getMetrics().permissionTotal.WithLabelValues(outcome).Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}

func RecordGatewayAuthFailure() {
	getMetrics().gatewayAuthFails.Inc()
}
