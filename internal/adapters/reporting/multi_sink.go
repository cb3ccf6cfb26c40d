package reporting

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// MultiSink publishes to every sink, even when an earlier one fails.
type MultiSink []ports.ReportSink

var _ ports.ReportSink = MultiSink(nil)

func (m MultiSink) Publish(ctx context.Context, report domain.AssessmentReport) error {
	var errs *multierror.Error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, report); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
