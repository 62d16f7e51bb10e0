package ports

// Metric names shared by the core loops and the Prometheus adapter.
const (
	MetricRequestsTotal       = "senseflow_requests_total"
	MetricRequestsDeferred    = "senseflow_requests_deferred_total"
	MetricResponsePutTimeouts = "senseflow_response_put_timeouts_total"
	MetricPacketsSent         = "senseflow_packets_sent_total"
	MetricOctetsSent          = "senseflow_octets_sent_total"
	MetricSenderReports       = "senseflow_sender_reports_total"
	MetricSendFailures        = "senseflow_send_failures_total"
	MetricOneshotsDelivered   = "senseflow_oneshots_delivered_total"
	MetricDroppedUpdates      = "senseflow_dropped_updates_total"
	MetricCarrierSamples      = "senseflow_carrier_samples_total"
	MetricFramesDropped       = "senseflow_frames_dropped_total"
	MetricRequestQueueLength  = "senseflow_request_queue_length"
	MetricResponseQueueLength = "senseflow_response_queue_length"
	MetricActiveSensors       = "senseflow_active_sensors"
	MetricRegistrations       = "senseflow_registrations"
	MetricDispatchLatency     = "senseflow_dispatch_latency_seconds"
)
