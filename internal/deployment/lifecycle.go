package deployment

import "time"

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusFailed},
	StatusActive:    {StatusSuspended, StatusActive},
	StatusSuspended: {StatusActive},
}

// CanTransition reports whether a deployment may move from one status to another.
// Failed has no outgoing edge: a failed deployment is provisioned again from scratch.
func CanTransition(from Status, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// payable reports whether pay may reactivate the deployment at now.
// An active deployment is payable only once its current period has lapsed.
func payable(deployment Deployment, now time.Time) error {
	switch deployment.Status {
	case StatusFailed:
		return ErrDeploymentFailed
	case StatusActive:
		if now.Before(deployment.NextPaymentDue) {
			return ErrPaymentNotDue
		}
	}
	if !CanTransition(deployment.Status, StatusActive) {
		return ErrDeploymentFailed
	}
	return nil
}
