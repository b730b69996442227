package pipeline

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jguan/mmx-optimizer/pkg/dataset"
	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/optimizer"
	"github.com/jguan/mmx-optimizer/pkg/transform"
)

var validate = validator.New()

// TrainerSettings configures the regression fit for a run. Zero values
// mean "unset"; the CLI fills them from config before submission, and the
// trainer itself rejects invalid values at fit time.
type TrainerSettings struct {
	Lambda     float64 `json:"lambda" yaml:"lambda" validate:"omitempty,gt=0"`
	TrainSplit float64 `json:"train_split" yaml:"train_split" validate:"omitempty,gt=0,lte=1"`
}

// Plan declares the channels, transform parameters, trainer settings, and
// optimization scenarios for one run. Plans are authored as YAML.
type Plan struct {
	Channels  map[string]transform.Params `json:"channels" yaml:"channels" validate:"required,min=1,dive"`
	Trainer   TrainerSettings             `json:"trainer" yaml:"trainer"`
	Scenarios []*optimizer.Scenario       `json:"scenarios" yaml:"scenarios" validate:"dive"`
	// MaxSpendFactor scales each channel's peak observed spend into the
	// response-curve grid limit. Defaults to 2.
	MaxSpendFactor float64 `json:"max_spend_factor,omitempty" yaml:"max_spend_factor,omitempty" validate:"gte=0"`
}

// Validate checks structural tags and the transform parameter domains.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return mmm.Wrap(err, mmm.CodeValidation, "invalid plan")
	}
	for ch, params := range p.Channels {
		if err := params.Validate(); err != nil {
			return mmm.Wrap(err, mmm.CodeValidation, "channel "+ch)
		}
	}
	return nil
}

func (p *Plan) maxSpendFactor() float64 {
	if p.MaxSpendFactor > 0 {
		return p.MaxSpendFactor
	}
	return 2
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mmm.Wrap(err, mmm.CodeValidation, "read plan file")
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, mmm.Wrap(err, mmm.CodeValidation, "decode plan YAML")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SubmitInput is the initial input a run is created with: the plan plus
// either a path to the feature table or the table inline.
type SubmitInput struct {
	Plan     *Plan          `json:"plan" yaml:"plan"`
	DataPath string         `json:"data_path,omitempty" yaml:"data_path,omitempty"`
	Table    *dataset.Table `json:"table,omitempty" yaml:"table,omitempty"`
}

// Validate rejects inputs that cannot produce an ingest artifact.
func (in *SubmitInput) Validate() error {
	if in.Plan == nil {
		return mmm.New(mmm.CodeValidation, "submit input has no plan")
	}
	if err := in.Plan.Validate(); err != nil {
		return err
	}
	if in.DataPath == "" && in.Table == nil {
		return mmm.New(mmm.CodeValidation, "submit input needs a data path or an inline table")
	}
	return nil
}
