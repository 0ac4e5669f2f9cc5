// internal/models/report.go
package models

import "time"

// Analytics holds the rollup metrics recomputed from the entity registry
type Analytics struct {
	EntityCount   int            `json:"entityCount"`
	StatusCounts  map[Status]int `json:"statusCounts"`
	MetricName    string         `json:"metricName"`
	AverageMetric float64        `json:"averageMetric"`
	AtRiskCount   int            `json:"atRiskCount"`
	ComputedAt    time.Time      `json:"computedAt"`
}

// Report is a read-only diagnostic snapshot of the hub
type Report struct {
	EntityCount         int                `json:"entityCount"`
	AlertCount          int64              `json:"alertCount"`
	EventLogSize        int                `json:"eventLogSize"`
	QueueDepth          int                `json:"queueDepth"`
	TelemetryClients    int                `json:"telemetryClients"`
	ResourceUtilization Utilization        `json:"resourceUtilization"`
	Modules             []ModuleDescriptor `json:"modules"`
	Analytics           Analytics          `json:"currentAnalytics"`
	GeneratedAt         time.Time          `json:"generatedAt"`
}
