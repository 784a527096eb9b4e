package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal 控制端连接数，按结果区分
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientsim",
			Subsystem: "worker",
			Name:      "connections_total",
			Help:      "Total number of controller connections by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveParticipants 当前在本 worker 上运行的参与者
	ActiveParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clientsim",
			Subsystem: "worker",
			Name:      "active_participants",
			Help:      "Number of participants currently driven by this worker",
		},
	)

	// CommandsReceived 收到的命令帧
	CommandsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientsim",
			Subsystem: "worker",
			Name:      "commands_received_total",
			Help:      "Total number of command frames received",
		},
		[]string{"command"},
	)

	// FramesSent 发出的响应帧
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientsim",
			Subsystem: "worker",
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent to controllers",
		},
		[]string{"kind"},
	)
)

// 帧类型标签
const (
	frameState = "state"
	frameLog   = "log"
	frameError = "error"
)

// 连接结果标签
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
)
