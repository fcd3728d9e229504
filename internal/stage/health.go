package stage

import "strings"

// Health summarizes the readiness of a worker or one of its collaborators.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: strings.TrimSpace(detail)}
}

// Combine folds the checks of a worker's collaborators into one record named
// name. The result is ready only when every check is.
func Combine(name string, checks ...Health) Health {
	var problems []string
	for _, check := range checks {
		if check.Ready {
			continue
		}
		detail := check.Name
		if check.Detail != "" {
			detail += ": " + check.Detail
		}
		problems = append(problems, detail)
	}
	if len(problems) == 0 {
		return Healthy(name)
	}
	return Unhealthy(name, strings.Join(problems, "; "))
}
