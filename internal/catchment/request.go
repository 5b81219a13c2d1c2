package catchment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StatisticsRequest asks for the forest-change area of basins inside a
// resolved upstream catchment. Years are offsets from model.BaseYear.
type StatisticsRequest struct {
	Session   string             `json:"session,omitempty" validate:"max=128"`
	Upstream  *model.UpstreamSet `json:"upstream" validate:"required"`
	BasinIDs  []int64            `json:"basin_ids,omitempty" validate:"dive,gt=0"`
	StartYear int                `json:"start_year" validate:"gte=0,lte=20"`
	EndYear   int                `json:"end_year" validate:"gte=0,lte=20,gtefield=StartYear"`
	Threshold int                `json:"threshold" validate:"gte=0,lte=100"`
}

// Params returns the classification parameters of the request.
func (r StatisticsRequest) Params() forest.Params {
	return forest.Params{Threshold: r.Threshold, StartYear: r.StartYear, EndYear: r.EndYear}
}

// Validate checks struct tags and then the classification parameters, so
// a bad request never reaches a remote call.
func (r StatisticsRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError("compute statistics", err)
	}
	return r.Params().Validate()
}

// StatisticsResult is the outcome of one statistics computation.
type StatisticsResult struct {
	RunID     string               `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Level     int                  `json:"level" yaml:"level"`
	BasinIDs  []int64              `json:"basin_ids" yaml:"basin_ids"`
	Params    forest.Params        `json:"params" yaml:"params"`
	Rows      []model.ZonalStatRow `json:"rows" yaml:"rows"`
	TotalArea float64              `json:"total_area_ha" yaml:"total_area_ha"`
	Duration  time.Duration        `json:"duration_ns" yaml:"duration"`
}

// validationError turns validator failures into one InvalidParameter error
// naming every failing field.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.InvalidParameter(op, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return model.InvalidParameter(op, "%s", strings.Join(msgs, "; "))
}
