package arming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/metrics"
	"github.com/pulsegrid/fusion/internal/model"
)

var (
	// ErrTriggeredLocked rejects transitions out of TRIGGERED that are
	// not an explicit disarm. A tripped alarm must be acknowledged, never
	// re-armed over.
	ErrTriggeredLocked = errors.New("area is triggered and must be disarmed explicitly")

	ErrInvalidTransition = errors.New("invalid armed-state transition")
)

// Store is the slice of the org gateway the arming service writes
// through. *gateway.Gateway satisfies it.
type Store interface {
	Area(ctx context.Context, id uuid.UUID) (*data.Area, error)
	Areas(ctx context.Context) ([]data.Area, error)
	AreasByLocation(ctx context.Context, locationID uuid.UUID) ([]data.Area, error)
	SetAreaState(ctx context.Context, id uuid.UUID, state model.ArmedState, reason model.ArmedStateReason, meta data.ArmingMeta) error
	SetAreaScheduleTimes(ctx context.Context, id uuid.UUID, nextArm, nextDisarm *time.Time) error
	SetAreaSkipUntil(ctx context.Context, id uuid.UUID, until *time.Time) error
}

// Service owns the area arming state machine. All writes funnel through
// SetState so the transition rules hold no matter who is asking:
// operators, automations, schedules or the event pipeline.
type Service struct {
	gatewayFor func(uuid.UUID) Store
	logger     *logrus.Logger
}

func NewService(gatewayFor func(uuid.UUID) Store, logger *logrus.Logger) *Service {
	return &Service{gatewayFor: gatewayFor, logger: logger}
}

// SetState validates and applies one transition. Re-applying the current
// state is a no-op success. Any applied transition clears the skip
// marker and the scheduled instants unless meta carries replacements.
func (s *Service) SetState(ctx context.Context, orgID, areaID uuid.UUID, target model.ArmedState, reason model.ArmedStateReason, meta data.ArmingMeta) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, target)
	}

	gw := s.gatewayFor(orgID)
	area, err := gw.Area(ctx, areaID)
	if err != nil {
		return err
	}

	if area.ArmedState == target {
		return nil
	}
	if area.ArmedState == model.Triggered {
		if target != model.Disarmed ||
			(reason != model.ReasonUserAction && reason != model.ReasonAutomationDisarm) {
			return ErrTriggeredLocked
		}
	}
	if target == model.Triggered {
		if reason != model.ReasonEventTriggered {
			return fmt.Errorf("%w: TRIGGERED is event-driven only", ErrInvalidTransition)
		}
		if !area.ArmedState.Armed() {
			return fmt.Errorf("%w: cannot trigger a disarmed area", ErrInvalidTransition)
		}
	}

	if err := gw.SetAreaState(ctx, areaID, target, reason, meta); err != nil {
		return err
	}

	metrics.ArmingTransitions.WithLabelValues(string(target), string(reason)).Inc()
	s.logger.WithFields(logrus.Fields{
		"area_id": areaID,
		"org_id":  orgID,
		"from":    area.ArmedState,
		"to":      target,
		"reason":  reason,
	}).Info("area state changed")
	return nil
}

// Arm puts the area into an armed mode.
func (s *Service) Arm(ctx context.Context, orgID, areaID uuid.UUID, mode model.ArmedState, reason model.ArmedStateReason) error {
	if !mode.Armed() {
		return fmt.Errorf("%w: %q is not an armed mode", ErrInvalidTransition, mode)
	}
	return s.SetState(ctx, orgID, areaID, mode, reason, data.ArmingMeta{})
}

func (s *Service) Disarm(ctx context.Context, orgID, areaID uuid.UUID, reason model.ArmedStateReason) error {
	return s.SetState(ctx, orgID, areaID, model.Disarmed, reason, data.ArmingMeta{})
}

// Trigger trips an armed area. Called by the event pipeline.
func (s *Service) Trigger(ctx context.Context, orgID, areaID uuid.UUID) error {
	return s.SetState(ctx, orgID, areaID, model.Triggered, model.ReasonEventTriggered, data.ArmingMeta{})
}

// BatchResult reports a best-effort bulk transition.
type BatchResult struct {
	Succeeded int            `json:"succeeded"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

type BatchFailure struct {
	AreaID uuid.UUID `json:"areaId"`
	Error  string    `json:"error"`
}

// ArmAll arms every area of the org, or of one location. Per-area
// failures are captured, never aborting the sweep.
func (s *Service) ArmAll(ctx context.Context, orgID uuid.UUID, locationID *uuid.UUID, mode model.ArmedState, reason model.ArmedStateReason) (BatchResult, error) {
	return s.batch(ctx, orgID, locationID, func(areaID uuid.UUID) error {
		return s.Arm(ctx, orgID, areaID, mode, reason)
	})
}

func (s *Service) DisarmAll(ctx context.Context, orgID uuid.UUID, locationID *uuid.UUID, reason model.ArmedStateReason) (BatchResult, error) {
	return s.batch(ctx, orgID, locationID, func(areaID uuid.UUID) error {
		return s.Disarm(ctx, orgID, areaID, reason)
	})
}

func (s *Service) batch(ctx context.Context, orgID uuid.UUID, locationID *uuid.UUID, apply func(uuid.UUID) error) (BatchResult, error) {
	gw := s.gatewayFor(orgID)

	var (
		areas []data.Area
		err   error
	)
	if locationID != nil {
		areas, err = gw.AreasByLocation(ctx, *locationID)
	} else {
		areas, err = gw.Areas(ctx)
	}
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, area := range areas {
		if err := apply(area.ID); err != nil {
			result.Failed = append(result.Failed, BatchFailure{AreaID: area.ID, Error: err.Error()})
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// SkipNext suppresses the area's pending scheduled arm. The marker sits
// one minute past the pending instant so the daemon consumes it exactly
// once.
func (s *Service) SkipNext(ctx context.Context, orgID, areaID uuid.UUID) error {
	gw := s.gatewayFor(orgID)
	area, err := gw.Area(ctx, areaID)
	if err != nil {
		return err
	}
	if area.NextScheduledArmTime == nil {
		return fmt.Errorf("area %s has no pending scheduled arm", areaID)
	}
	until := area.NextScheduledArmTime.Add(time.Minute)
	if err := gw.SetAreaSkipUntil(ctx, areaID, &until); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"area_id":    areaID,
		"skip_until": until,
	}).Info("next scheduled arm skipped")
	return nil
}
