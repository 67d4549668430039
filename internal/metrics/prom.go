package metrics

import (
	"time"

	"nutriflow/internal/planner"
	"nutriflow/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
)

// Prom exposes planner and oracle activity as Prometheus metrics.
// It implements planner.Observer.
type Prom struct {
	slotsFilled  *prometheus.CounterVec
	slotsSkipped *prometheus.CounterVec
	planDuration *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
}

// NewProm registers the collectors on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		slotsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutriflow",
			Name:      "meal_slots_filled_total",
			Help:      "Meal slots filled, by recipe source.",
		}, []string{"source"}),
		slotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutriflow",
			Name:      "meal_slots_skipped_total",
			Help:      "Meal slots left empty, by diagnostic code.",
		}, []string{"code"}),
		planDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nutriflow",
			Name:      "plan_assembly_seconds",
			Help:      "Time spent assembling a plan.",
			Buckets:   []float64{.005, .05, .25, 1, 5, 15, 30, 60, 120},
		}, []string{"kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutriflow",
			Name:      "llm_tokens_total",
			Help:      "Language model tokens consumed, by agent and direction.",
		}, []string{"agent", "direction"}),
	}
	reg.MustRegister(p.slotsFilled, p.slotsSkipped, p.planDuration, p.tokens)
	return p
}

var _ planner.Observer = (*Prom)(nil)

func (p *Prom) SlotFilled(source string) {
	p.slotsFilled.WithLabelValues(source).Inc()
}

func (p *Prom) SlotSkipped(code planner.DiagnosticCode) {
	p.slotsSkipped.WithLabelValues(string(code)).Inc()
}

func (p *Prom) PlanAssembled(kind string, elapsed time.Duration) {
	p.planDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveUsage adds the token counts of the executions.
func (p *Prom) ObserveUsage(metas []shared.AgentMeta) {
	for _, m := range metas {
		p.tokens.WithLabelValues(m.AgentName, "prompt").Add(float64(m.Usage.PromptTokens))
		p.tokens.WithLabelValues(m.AgentName, "completion").Add(float64(m.Usage.CompletionTokens))
	}
}
