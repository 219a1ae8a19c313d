package ocppclient

import (
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatProfile(purpose types.ChargingProfilePurposeType, stackLevel int, limit float64) ChargingProfile {
	return ChargingProfile{
		ID:         stackLevel + 100,
		Purpose:    purpose,
		Kind:       types.ChargingProfileKindAbsolute,
		StackLevel: stackLevel,
		Unit:       types.ChargingRateUnitAmperes,
		Periods:    []SchedulePeriod{{StartPeriod: 0, Limit: limit}},
	}
}

func TestResolveWithoutProfiles(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())

	result := s.Resolve(clock.Now(), false, 30)
	assert.Equal(t, 30.0, result.Limit)
	assert.False(t, result.Underflow)
	assert.Empty(t, result.Sources)
}

func TestResolveStationMaxAndTxProfile(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 5, 10)))
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxProfile, 3, 25)))

	result := s.Resolve(clock.Now(), true, 30)
	assert.Equal(t, 10.0, result.Limit)
	assert.Equal(t, []types.ChargingProfilePurposeType{
		types.ChargingProfilePurposeChargePointMaxProfile,
		types.ChargingProfilePurposeTxProfile,
	}, result.Sources)
}

func TestResolveTxProfileIgnoredWithoutTransaction(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxProfile, 0, 8)))
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 0, 16)))

	assert.Equal(t, 16.0, s.Resolve(clock.Now(), false, 30).Limit)
	assert.Equal(t, 8.0, s.Resolve(clock.Now(), true, 30).Limit)
}

func TestResolveNeverExceedsHardwareMax(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, 100)))
	assert.Equal(t, 30.0, s.Resolve(clock.Now(), false, 30).Limit)
}

func TestResolveStationMaxZero(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, 0)))
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxProfile, 0, 25)))

	result := s.Resolve(clock.Now(), true, 30)
	assert.Equal(t, 0.0, result.Limit)
	assert.False(t, result.Underflow)
}

func TestResolveNegativeLimitUnderflows(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 0, -5)))

	result := s.Resolve(clock.Now(), false, 30)
	assert.Equal(t, 0.0, result.Limit)
	assert.True(t, result.Underflow)
}

func TestResolveValidityBoundaries(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	from := clock.Now().Add(time.Minute)
	to := from.Add(time.Hour)
	profile := flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, 12)
	profile.ValidFrom = &from
	profile.ValidTo = &to
	require.NoError(t, s.Install(profile))

	assert.Equal(t, 30.0, s.Resolve(from.Add(-time.Millisecond), false, 30).Limit)
	assert.Equal(t, 12.0, s.Resolve(from, false, 30).Limit)
	assert.Equal(t, 12.0, s.Resolve(to.Add(-time.Millisecond), false, 30).Limit)
	assert.Equal(t, 30.0, s.Resolve(to, false, 30).Limit)
}

func TestResolvePeriodSelection(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	start := clock.Now()
	duration := 3600
	profile := flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 0, 0)
	profile.StartSchedule = &start
	profile.Duration = &duration
	profile.Periods = []SchedulePeriod{
		{StartPeriod: 1800, Limit: 6},
		{StartPeriod: 0, Limit: 20},
		{StartPeriod: 600, Limit: 12},
	}
	require.NoError(t, s.Install(profile))

	assert.Equal(t, 20.0, s.Resolve(start, false, 30).Limit)
	assert.Equal(t, 20.0, s.Resolve(start.Add(599*time.Second), false, 30).Limit)
	assert.Equal(t, 12.0, s.Resolve(start.Add(600*time.Second), false, 30).Limit)
	assert.Equal(t, 6.0, s.Resolve(start.Add(3600*time.Second), false, 30).Limit)
	// schedule elapsed
	assert.Equal(t, 30.0, s.Resolve(start.Add(3601*time.Second), false, 30).Limit)
	// before the anchor
	assert.Equal(t, 30.0, s.Resolve(start.Add(-time.Second), false, 30).Limit)
}

func TestResolveNoQualifyingPeriod(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	profile := flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, 0)
	profile.Periods = []SchedulePeriod{{StartPeriod: 60, Limit: 5}}
	require.NoError(t, s.Install(profile))

	assert.Equal(t, 30.0, s.Resolve(clock.Now(), false, 30).Limit)
	assert.Equal(t, 5.0, s.Resolve(clock.Now().Add(time.Minute), false, 30).Limit)
}

func TestResolveTxProfileWithoutStartedPeriodShadowsDefault(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	txProfile := flatProfile(types.ChargingProfilePurposeTxProfile, 0, 0)
	validFrom := clock.Now()
	txProfile.ValidFrom = &validFrom
	txProfile.Periods = []SchedulePeriod{{StartPeriod: 600, Limit: 20}}
	require.NoError(t, s.Install(txProfile))
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 0, 5)))

	result := s.Resolve(clock.Now().Add(10*time.Second), true, 30)
	assert.Equal(t, 30.0, result.Limit)
	assert.Empty(t, result.Sources)

	result = s.Resolve(clock.Now().Add(10*time.Minute), true, 30)
	assert.Equal(t, 20.0, result.Limit)
	assert.Equal(t, []types.ChargingProfilePurposeType{types.ChargingProfilePurposeTxProfile}, result.Sources)

	// without a transaction the default applies
	assert.Equal(t, 5.0, s.Resolve(clock.Now().Add(10*time.Second), false, 30).Limit)
}

func TestResolveWattsConvertedWithVoltage(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(200, clock.Now())
	profile := flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, 2000)
	profile.Unit = types.ChargingRateUnitWatts
	require.NoError(t, s.Install(profile))

	assert.Equal(t, 10.0, s.Resolve(clock.Now(), false, 30).Limit)
}

func TestInstallReplacesSlot(t *testing.T) {
	clock := newFakeClock()
	s := NewProfileStore(208, clock.Now())
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 1, 10)))
	require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 2, 20)))

	profile, ok := s.Get(types.ChargingProfilePurposeTxDefaultProfile)
	require.True(t, ok)
	assert.Equal(t, 2, profile.StackLevel)
	assert.Len(t, s.Profiles(), 1)
}

func TestInstallRejectsInvalid(t *testing.T) {
	s := NewProfileStore(208, time.Now())

	noPeriods := flatProfile(types.ChargingProfilePurposeTxProfile, 0, 10)
	noPeriods.Periods = nil
	assert.Error(t, s.Install(noPeriods))

	badPurpose := flatProfile("Other", 0, 10)
	assert.Error(t, s.Install(badPurpose))

	negativeOffset := flatProfile(types.ChargingProfilePurposeTxProfile, 0, 10)
	negativeOffset.Periods[0].StartPeriod = -1
	assert.Error(t, s.Install(negativeOffset))

	assert.Empty(t, s.Profiles())
}

func TestInstallResolveRoundTrip(t *testing.T) {
	clock := newFakeClock()
	for _, limit := range []float64{0, 6, 15.5, 29.9, 30} {
		s := NewProfileStore(208, clock.Now())
		require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 0, limit)))
		assert.Equal(t, limit, s.Resolve(clock.Now(), false, 30).Limit)
	}
}

func TestClearFilters(t *testing.T) {
	clock := newFakeClock()
	install := func() *ProfileStore {
		s := NewProfileStore(208, clock.Now())
		require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeChargePointMaxProfile, 1, 10)))
		require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxDefaultProfile, 2, 10)))
		require.NoError(t, s.Install(flatProfile(types.ChargingProfilePurposeTxProfile, 2, 10)))
		return s
	}

	id := 101
	assert.Equal(t, 1, install().Clear(ClearFilter{ID: &id}))

	level := 2
	assert.Equal(t, 2, install().Clear(ClearFilter{StackLevel: &level}))
	assert.Equal(t, 1, install().Clear(ClearFilter{Purpose: types.ChargingProfilePurposeTxProfile, StackLevel: &level}))
	assert.Equal(t, 3, install().Clear(ClearFilter{}))

	missing := 7
	assert.Equal(t, 0, install().Clear(ClearFilter{ID: &missing}))
}

func TestProfileFromOCPP(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	duration := 120
	wire := &types.ChargingProfile{
		ChargingProfileId:      7,
		TransactionId:          42,
		StackLevel:             3,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxProfile,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		ValidFrom:              types.NewDateTime(from),
		ChargingSchedule: &types.ChargingSchedule{
			Duration:         &duration,
			ChargingRateUnit: types.ChargingRateUnitWatts,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: 4160},
			},
		},
	}

	profile := ProfileFromOCPP(wire)
	assert.Equal(t, 7, profile.ID)
	assert.Equal(t, 42, profile.TransactionID)
	require.NotNil(t, profile.ValidFrom)
	assert.True(t, from.Equal(*profile.ValidFrom))
	assert.Nil(t, profile.ValidTo)
	assert.Equal(t, types.ChargingRateUnitWatts, profile.Unit)
	assert.Equal(t, []SchedulePeriod{{StartPeriod: 0, Limit: 4160}}, profile.Periods)
}
