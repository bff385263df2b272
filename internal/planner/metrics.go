package planner

import "github.com/banshee-data/selfeval/internal/monitoring"

func observe(transport string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	monitoring.OracleCalls.WithLabelValues(transport, outcome).Inc()
}
