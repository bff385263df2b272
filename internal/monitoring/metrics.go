package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OracleCalls counts motion-planner calls by transport and outcome.
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "selfeval_oracle_calls_total",
		Help: "Motion planner calls by transport and outcome",
	}, []string{"transport", "outcome"})

	// ArmEvaluationDuration tracks per-arm evaluation latency.
	ArmEvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "selfeval_arm_evaluation_duration_seconds",
		Help:    "Arm evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"outcome"})

	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "selfeval_rounds_total",
		Help: "Bandit rounds by outcome",
	}, []string{"outcome"})

	WorstArmFailureProbability = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "selfeval_worst_arm_failure_probability",
		Help: "Failure probability of the worst arm in the last completed round",
	})

	// OutOfWorkspaceDemonstrations counts demonstrations left unassigned.
	OutOfWorkspaceDemonstrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "selfeval_out_of_workspace_demonstrations_total",
		Help: "Demonstrations whose object pose fell outside every arm",
	})
)
