package approval

import (
	"strings"

	"github.com/opsleuth/sleuth/pkg/investigation"
)

// destructivePrefixes are operation prefixes that are always critical.
var destructivePrefixes = []string{"delete", "terminate", "stop", "destroy", "drop"}

// ClassifyRisk maps an operation and its target resource to a risk level.
// Rules apply in order, first match wins; production-looking resources
// raise the matched level by one.
func ClassifyRisk(operation, resource string) investigation.RiskLevel {
	op := strings.ToLower(strings.TrimSpace(operation))
	res := strings.ToLower(strings.TrimSpace(resource))

	level := baseRisk(op)
	if strings.Contains(res, "prod") {
		level = escalate(level)
	}
	return level
}

func baseRisk(op string) investigation.RiskLevel {
	for _, prefix := range destructivePrefixes {
		if strings.HasPrefix(op, prefix) {
			return investigation.RiskCritical
		}
	}
	switch {
	case strings.Contains(op, "iam") && (strings.Contains(op, "put") || strings.Contains(op, "attach") || strings.Contains(op, "policy")):
		return investigation.RiskCritical
	case strings.Contains(op, "drop_database"), strings.Contains(op, "drop_table"):
		return investigation.RiskCritical
	case strings.Contains(op, "scale_to_zero"), strings.Contains(op, "force") && strings.Contains(op, "deploy"):
		return investigation.RiskHigh
	case strings.Contains(op, "update_config"), strings.Contains(op, "set_config"),
		strings.Contains(op, "scale"), strings.Contains(op, "resize"):
		return investigation.RiskMedium
	case strings.Contains(op, "restart"), strings.Contains(op, "drain"),
		strings.Contains(op, "reboot"), strings.Contains(op, "rollout"):
		return investigation.RiskLow
	default:
		return investigation.RiskMedium
	}
}

func escalate(level investigation.RiskLevel) investigation.RiskLevel {
	switch level {
	case investigation.RiskLow:
		return investigation.RiskMedium
	case investigation.RiskMedium:
		return investigation.RiskHigh
	default:
		return investigation.RiskCritical
	}
}
