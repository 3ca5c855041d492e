package flowdef

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/model"
)

// Seeder installs validated flow seeds into the store at startup. Seeding is
// additive: a process type that already has a flow is left alone, so
// administrative edits survive restarts.
type Seeder struct {
	store           store.Store
	logger          *zap.Logger
	defaultSLAHours int
	tally           Tally
}

// Tally counts seed outcomes. Safe for concurrent use.
type Tally interface {
	RecordFlowSeed(status string)
}

// NewSeeder creates a Seeder. defaultSLAHours applies to steps whose seed
// leaves the SLA at zero.
func NewSeeder(st store.Store, logger *zap.Logger, defaultSLAHours int) *Seeder {
	return &Seeder{store: st, logger: logger, defaultSLAHours: defaultSLAHours}
}

// Instrument attaches a counter set. Nil disables instrumentation.
func (s *Seeder) Instrument(t Tally) { s.tally = t }

// Seed loads, validates, and installs every seed found under the given
// directories. Validation failures abort the whole run.
func (s *Seeder) Seed(ctx context.Context, directories []string) error {
	if len(directories) == 0 {
		return nil
	}

	seeds, err := NewLoader().LoadAll(directories)
	if err != nil {
		return err
	}
	if errs := NewValidator().Validate(seeds); len(errs) > 0 {
		for _, ve := range errs {
			s.logger.Error("invalid flow seed",
				zap.String("path", ve.Path),
				zap.String("code", ve.Code),
				zap.String("message", ve.Message),
			)
		}
		return fmt.Errorf("flow seeds failed validation with %d error(s)", len(errs))
	}

	for _, seed := range seeds {
		if err := s.install(ctx, seed); err != nil {
			return fmt.Errorf("seeding flow %q: %w", seed.ProcessType, err)
		}
	}
	return nil
}

func (s *Seeder) install(ctx context.Context, seed FlowSeed) error {
	_, err := s.store.GetFlowByProcessType(ctx, seed.ProcessType)
	if err == nil {
		s.count("skipped")
		s.logger.Info("flow already present, seed skipped",
			zap.String("process_type", seed.ProcessType),
			zap.String("source", seed.SourceFile),
		)
		return nil
	}
	if model.CodeOf(err) != model.ErrNotFound {
		return err
	}

	now := time.Now().UTC()
	flow := model.Flow{
		ID:          uuid.New().String(),
		Name:        seed.Name,
		ProcessType: seed.ProcessType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, in := range seed.Steps {
		flow.Steps = append(flow.Steps, model.Step{
			ID:             uuid.New().String(),
			FlowID:         flow.ID,
			Order:          in.Order,
			Name:           in.Name,
			RequiredRoleID: in.RequiredRoleID,
			SLAHours:       s.slaFor(in),
		})
	}
	if err := s.store.CreateFlow(ctx, &flow); err != nil {
		s.count("error")
		return err
	}

	s.count("installed")
	s.logger.Info("flow seeded",
		zap.String("process_type", seed.ProcessType),
		zap.String("flow_id", flow.ID),
		zap.Int("steps", len(flow.Steps)),
		zap.String("checksum", seed.Checksum),
	)
	return nil
}

func (s *Seeder) count(status string) {
	if s.tally != nil {
		s.tally.RecordFlowSeed(status)
	}
}

// slaFor resolves a step's SLA: explicit positive values win, zero falls
// back to the deployment default, negative disables the SLA.
func (s *Seeder) slaFor(in StepSeed) *int {
	switch {
	case in.SLAHours > 0:
		v := in.SLAHours
		return &v
	case in.SLAHours == 0 && s.defaultSLAHours > 0:
		v := s.defaultSLAHours
		return &v
	default:
		return nil
	}
}
