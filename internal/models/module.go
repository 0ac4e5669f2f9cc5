// internal/models/module.go
package models

import "time"

// Category groups modules by the role they play in the hub
type Category string

const (
	CategoryMonitoring      Category = "MONITORING"
	CategoryControl         Category = "CONTROL"
	CategoryDecisionSupport Category = "DECISION_SUPPORT"
	CategoryPredictive      Category = "PREDICTIVE"
	CategoryCommunication   Category = "COMMUNICATION"
	CategoryCompute         Category = "COMPUTE"
)

// ModuleDescriptor describes a registered processing module
type ModuleDescriptor struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Category             Category      `json:"category" yaml:"category"`
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	Priority             Priority      `json:"priority" yaml:"priority"`
	PerformanceThreshold time.Duration `json:"performanceThreshold" yaml:"performanceThreshold"`
	Dependencies         []string      `json:"dependencies,omitempty" yaml:"dependencies"`
}
