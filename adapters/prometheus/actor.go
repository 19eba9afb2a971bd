package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/fanout/core/actor"
	"github.com/codewandler/fanout/core/metrics"
)

type actorMetrics struct {
	messageDuration       *prometheus.HistogramVec
	messagesTotal         *prometheus.CounterVec
	panicTotal            *prometheus.CounterVec
	mailboxDepth          *prometheus.GaugeVec
	schedulerInflight     *prometheus.GaugeVec
	schedulerTaskDuration *prometheus.HistogramVec
	schedulerTasksTotal   *prometheus.CounterVec
}

func NewActorMetrics(reg prometheus.Registerer) actor.ActorMetrics {
	c := collectors{reg: reg, subsystem: "actor"}
	return &actorMetrics{
		messageDuration:       c.histogram("message_duration_seconds", "Message handling time in seconds", "message_type"),
		messagesTotal:         c.counter("messages_total", "Messages processed", "message_type", "success"),
		panicTotal:            c.counter("panics_total", "Handler panics", "message_type"),
		mailboxDepth:          c.gauge("mailbox_depth", "Messages waiting in the mailbox", "actor_id"),
		schedulerInflight:     c.gauge("scheduler_inflight", "Scheduled tasks running", "actor_id"),
		schedulerTaskDuration: c.histogram("scheduler_task_duration_seconds", "Scheduled task duration in seconds"),
		schedulerTasksTotal:   c.counter("scheduler_tasks_total", "Scheduled tasks completed", "success"),
	}
}

func (m *actorMetrics) MessageDuration(msgType string) metrics.Timer {
	return newTimer(m.messageDuration.WithLabelValues(msgType))
}

func (m *actorMetrics) MessageProcessed(msgType string, success bool) {
	m.messagesTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *actorMetrics) MessagePanic(msgType string) { m.panicTotal.WithLabelValues(msgType).Inc() }

func (m *actorMetrics) MailboxDepth(actorID string, depth int) {
	m.mailboxDepth.WithLabelValues(actorID).Set(float64(depth))
}

func (m *actorMetrics) SchedulerInflight(actorID string, count int) {
	m.schedulerInflight.WithLabelValues(actorID).Set(float64(count))
}

func (m *actorMetrics) SchedulerTaskDuration() metrics.Timer {
	return newTimer(m.schedulerTaskDuration.WithLabelValues())
}

func (m *actorMetrics) SchedulerTaskCompleted(success bool) {
	m.schedulerTasksTotal.WithLabelValues(boolToStr(success)).Inc()
}

var _ actor.ActorMetrics = (*actorMetrics)(nil)
