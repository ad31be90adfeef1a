package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vo_ticks_total",
		Help: "Ticks advanced by this process.",
	})
	currentTickGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vo_current_tick",
		Help: "Current simulation tick.",
	})
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vo_messages_sent_total",
		Help: "Emails and chats delivered through the gateways, by channel.",
	}, []string{"channel"})
	droppedComms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vo_dropped_comms_total",
		Help: "Scheduled communications dropped before delivery.",
	})
	simEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vo_sim_events_total",
		Help: "Simulation events applied, by type.",
	}, []string{"type"})
)
