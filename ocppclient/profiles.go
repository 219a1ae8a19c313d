package ocppclient

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

var validate = validator.New()

// SchedulePeriod is one step of a charging schedule, StartPeriod seconds after the
// schedule anchor.
type SchedulePeriod struct {
	StartPeriod int     `json:"startPeriod" validate:"gte=0"`
	Limit       float64 `json:"limit"`
}

// ChargingProfile is the installed form of an OCPP charging profile.
type ChargingProfile struct {
	ID            int                              `json:"chargingProfileId"`
	TransactionID int                              `json:"transactionId,omitempty"`
	Purpose       types.ChargingProfilePurposeType `json:"chargingProfilePurpose" validate:"required,oneof=ChargePointMaxProfile TxDefaultProfile TxProfile"`
	Kind          types.ChargingProfileKindType    `json:"chargingProfileKind,omitempty"`
	StackLevel    int                              `json:"stackLevel" validate:"gte=0"`
	ValidFrom     *time.Time                       `json:"validFrom,omitempty"`
	ValidTo       *time.Time                       `json:"validTo,omitempty"`
	StartSchedule *time.Time                       `json:"startSchedule,omitempty"`
	Duration      *int                             `json:"duration,omitempty" validate:"omitempty,gte=0"`
	Unit          types.ChargingRateUnitType       `json:"chargingRateUnit" validate:"required,oneof=A W"`
	Periods       []SchedulePeriod                 `json:"chargingSchedulePeriod" validate:"required,min=1,dive"`
}

// ProfileFromOCPP converts a wire charging profile. A missing schedule yields a
// profile that fails validation on Install.
func ProfileFromOCPP(p *types.ChargingProfile) ChargingProfile {
	profile := ChargingProfile{
		ID:            p.ChargingProfileId,
		TransactionID: p.TransactionId,
		Purpose:       p.ChargingProfilePurpose,
		Kind:          p.ChargingProfileKind,
		StackLevel:    p.StackLevel,
		ValidFrom:     dateTimePtr(p.ValidFrom),
		ValidTo:       dateTimePtr(p.ValidTo),
	}
	if s := p.ChargingSchedule; s != nil {
		profile.Unit = s.ChargingRateUnit
		profile.StartSchedule = dateTimePtr(s.StartSchedule)
		profile.Duration = s.Duration
		for _, period := range s.ChargingSchedulePeriod {
			profile.Periods = append(profile.Periods, SchedulePeriod{StartPeriod: period.StartPeriod, Limit: period.Limit})
		}
	}
	return profile
}

func dateTimePtr(dt *types.DateTime) *time.Time {
	if dt == nil || dt.IsZero() {
		return nil
	}
	t := dt.Time
	return &t
}

func (p ChargingProfile) validAt(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && !now.Before(*p.ValidTo) {
		return false
	}
	return true
}

func (p ChargingProfile) anchor(processStart time.Time) time.Time {
	if p.ValidFrom != nil {
		return *p.ValidFrom
	}
	if p.StartSchedule != nil {
		return *p.StartSchedule
	}
	return processStart
}

// limitAt returns the limit of the last period whose offset does not exceed the
// elapsed time. Periods are not required to be sorted.
func (p ChargingProfile) limitAt(now time.Time, processStart time.Time) (float64, bool) {
	elapsed := now.Sub(p.anchor(processStart))
	if elapsed < 0 {
		return 0, false
	}
	if p.Duration != nil && elapsed > time.Duration(*p.Duration)*time.Second {
		return 0, false
	}
	found := false
	best := 0
	limit := 0.0
	for _, period := range p.Periods {
		offset := time.Duration(period.StartPeriod) * time.Second
		if offset > elapsed {
			continue
		}
		if !found || period.StartPeriod >= best {
			found = true
			best = period.StartPeriod
			limit = period.Limit
		}
	}
	return limit, found
}

// CompositeLimit is the effective current cap at one instant.
type CompositeLimit struct {
	Limit     float64                            `json:"limit"`
	Underflow bool                               `json:"underflow,omitempty"`
	Sources   []types.ChargingProfilePurposeType `json:"sources,omitempty"`
}

// ClearFilter selects profiles to clear. With ID set only the id is matched;
// otherwise Purpose and StackLevel narrow the selection when given.
type ClearFilter struct {
	ID         *int
	Purpose    types.ChargingProfilePurposeType
	StackLevel *int
}

// ProfileStore keeps one charging profile per purpose and resolves the composite
// limit from them. It is not safe for concurrent use.
type ProfileStore struct {
	profiles     map[types.ChargingProfilePurposeType]ChargingProfile
	voltage      float64
	processStart time.Time
}

// NewProfileStore creates a store. Voltage converts watt schedules into amperes;
// processStart anchors profiles without an explicit start.
func NewProfileStore(voltage float64, processStart time.Time) *ProfileStore {
	return &ProfileStore{
		profiles:     map[types.ChargingProfilePurposeType]ChargingProfile{},
		voltage:      voltage,
		processStart: processStart,
	}
}

// Install replaces any profile with the same purpose.
func (s *ProfileStore) Install(profile ChargingProfile) error {
	if err := validate.Struct(profile); err != nil {
		return fmt.Errorf("invalid charging profile: %w", err)
	}
	s.profiles[profile.Purpose] = profile
	return nil
}

func (s *ProfileStore) Get(purpose types.ChargingProfilePurposeType) (ChargingProfile, bool) {
	p, ok := s.profiles[purpose]
	return p, ok
}

// Profiles returns the installed profiles ordered by purpose.
func (s *ProfileStore) Profiles() []ChargingProfile {
	out := make([]ChargingProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Purpose < out[j].Purpose })
	return out
}

// Clear removes the profiles matching the filter and reports how many went away.
func (s *ProfileStore) Clear(filter ClearFilter) int {
	removed := 0
	for purpose, p := range s.profiles {
		if filter.ID != nil {
			if p.ID != *filter.ID {
				continue
			}
		} else {
			if filter.Purpose != "" && filter.Purpose != purpose {
				continue
			}
			if filter.StackLevel != nil && *filter.StackLevel != p.StackLevel {
				continue
			}
		}
		delete(s.profiles, purpose)
		removed++
	}
	return removed
}

func (s *ProfileStore) amps(p ChargingProfile, limit float64) (float64, bool) {
	if p.Unit != types.ChargingRateUnitWatts {
		return limit, true
	}
	if s.voltage <= 0 {
		return 0, false
	}
	return limit / s.voltage, true
}

// selected returns the profile installed for purpose when it is valid at now.
func (s *ProfileStore) selected(purpose types.ChargingProfilePurposeType, now time.Time) (ChargingProfile, bool) {
	p, ok := s.profiles[purpose]
	if !ok || !p.validAt(now) {
		return ChargingProfile{}, false
	}
	return p, true
}

// periodLimit is the limit of the period of p in force at now. A selected
// profile without a started period adds no constraint.
func (s *ProfileStore) periodLimit(p ChargingProfile, now time.Time) (float64, bool) {
	limit, ok := p.limitAt(now, s.processStart)
	if !ok {
		return 0, false
	}
	return s.amps(p, limit)
}

func (s *ProfileStore) constraint(purpose types.ChargingProfilePurposeType, now time.Time) (float64, bool) {
	p, ok := s.selected(purpose, now)
	if !ok {
		return 0, false
	}
	return s.periodLimit(p, now)
}

// Resolve computes the composite limit in amperes: the minimum of the station
// max profile, the transaction-level profile and hardwareMax, floored at zero.
// TxProfile applies only while a transaction is active and takes precedence
// over TxDefaultProfile.
func (s *ProfileStore) Resolve(now time.Time, txActive bool, hardwareMax float64) CompositeLimit {
	result := CompositeLimit{Limit: hardwareMax}

	if limit, ok := s.constraint(types.ChargingProfilePurposeChargePointMaxProfile, now); ok {
		result.Sources = append(result.Sources, types.ChargingProfilePurposeChargePointMaxProfile)
		result.Limit = math.Min(result.Limit, limit)
	}

	var (
		txProfile ChargingProfile
		selected  bool
	)
	if txActive {
		txProfile, selected = s.selected(types.ChargingProfilePurposeTxProfile, now)
	}
	if !selected {
		txProfile, selected = s.selected(types.ChargingProfilePurposeTxDefaultProfile, now)
	}
	// a selected profile shadows TxDefaultProfile even before its first period
	if selected {
		if limit, ok := s.periodLimit(txProfile, now); ok {
			result.Sources = append(result.Sources, txProfile.Purpose)
			result.Limit = math.Min(result.Limit, limit)
		}
	}

	if result.Limit < 0 || math.IsNaN(result.Limit) {
		result.Limit = 0
		result.Underflow = true
	}
	return result
}
