package session

import "github.com/prometheus/client_golang/prometheus"

var (
	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirsync",
		Name:      "frames_sent_total",
		Help:      "Frames written to the wire, by opcode.",
	}, []string{"opcode"})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirsync",
		Name:      "frames_received_total",
		Help:      "Frames read from the wire, by opcode.",
	}, []string{"opcode"})

	bytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirsync",
		Name:      "file_bytes_transferred_total",
		Help:      "File-stream payload bytes moved, by direction.",
	}, []string{"direction"})

	operationsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirsync",
		Name:      "operations_executed_total",
		Help:      "Reconciler operations executed, by verb and outcome.",
	}, []string{"verb", "outcome"})
)

func init() {
	prometheus.MustRegister(framesSent, framesReceived, bytesTransferred, operationsExecuted)
}
