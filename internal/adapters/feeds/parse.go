package feeds

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts the timestamp formats used by the feeds. Values without a
// zone are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// flexFloat decodes a number sent either as a JSON number or a string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

var _ json.Unmarshaler = (*flexFloat)(nil)

// parseAll converts raw entries, dropping and logging those that fail.
func parseAll[R, T any](feed string, raw []R, convert func(R) (T, error)) []T {
	out := make([]T, 0, len(raw))
	var errs *multierror.Error
	for _, r := range raw {
		rec, err := convert(r)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		out = append(out, rec)
	}

	telemetry.FeedRecords.WithLabelValues(feed, "parsed").Add(float64(len(out)))
	if errs.ErrorOrNil() != nil {
		telemetry.FeedRecords.WithLabelValues(feed, "malformed").Add(float64(len(errs.Errors)))
		slog.Warn("dropped malformed feed entries", "feed", feed, "count", len(errs.Errors), "error", errs.Error())
	}
	return out
}
