package assessment

import (
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
)

// Route is the output of a routing function.
type Route string

const (
	RouteNext  Route = "next"
	RouteRetry Route = "retry"
)

// transitions maps (stage, route) to the next stage.
var transitions = map[domain.Stage]map[Route]domain.Stage{
	domain.StageEnrichment:       {RouteNext: domain.StageRiskScoring},
	domain.StageRiskScoring:      {RouteNext: domain.StageAssetMatching},
	domain.StageAssetMatching:    {RouteNext: domain.StageTechniqueMapping},
	domain.StageTechniqueMapping: {RouteNext: domain.StageCritique},
	domain.StageCritique: {
		RouteRetry: domain.StageTechniqueMapping,
		RouteNext:  domain.StageReportGeneration,
	},
	domain.StageReportGeneration: {RouteNext: domain.StageDone},
}

// Next returns the stage following from the route, and false when the
// transition is not defined.
func Next(stage domain.Stage, route Route) (domain.Stage, bool) {
	next, ok := transitions[stage][route]
	return next, ok
}

// RouteAfterCritique decides whether to retry technique mapping.
//
// It retries while the error trail is non-empty and the reflexion budget
// remains, returning a patch that increments the counter. Otherwise it routes
// forward with an empty patch.
func RouteAfterCritique(s domain.AssessmentState) (Route, domain.StatePatch) {
	if len(s.Errors) > 0 && s.ReflexionCount < s.MaxReflexion {
		telemetry.ReflexionCycles.Inc()
		return RouteRetry, domain.StatePatch{ReflexionCount: domain.Some(s.ReflexionCount + 1)}
	}
	return RouteNext, domain.StatePatch{}
}
