package pulse

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/printfleet/internal/probe"
	"github.com/HerbHall/printfleet/internal/testutil"
	"github.com/HerbHall/printfleet/pkg/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func reading(level int) models.ConsumableReading {
	return models.ConsumableReading{DeviceID: "p1", Level: models.IntPtr(level), Serial: "SN-OLD", PageCounter: 1000, ReserveStock: 2}
}

func sample(level int) Sample {
	serial := "SN-NEW"
	counter := int64(1500)
	return Sample{Level: &level, Serial: &serial, PageCounter: &counter}
}

func TestClassify(t *testing.T) {
	sixDaysAgo := testNow.Add(-6 * 24 * time.Hour)
	eightDaysAgo := testNow.Add(-8 * 24 * time.Hour)

	withAlert := func(r models.ConsumableReading, at time.Time) models.ConsumableReading {
		r.LastAlertAt = &at
		return r
	}

	tests := []struct {
		name     string
		prev     models.ConsumableReading
		sample   Sample
		wantKind DecisionKind
		wantInc  int
		wantRes  int
		wantDue  bool
	}{
		{"missing level", reading(40), Sample{}, DecisionNoSignal, 0, 0, false},
		{"first reading becomes baseline", models.ConsumableReading{}, sample(45), DecisionBaseline, 0, 0, false},
		{"low first reading never alerts", models.ConsumableReading{}, sample(10), DecisionBaseline, 0, 0, false},
		{"large increase is replacement", reading(15), sample(70), DecisionReplacement, 1, -1, false},
		{"increase of exactly the threshold is update", reading(20), sample(70), DecisionUpdate, 0, 0, false},
		{"large decrease is update", reading(90), sample(18), DecisionUpdate, 0, 0, true},
		{"small drift is noise", reading(40), sample(44), DecisionNoise, 0, 0, false},
		{"drift of exactly the update threshold is noise", reading(40), sample(35), DecisionNoise, 0, 0, false},
		{"drift above update threshold", reading(40), sample(34), DecisionUpdate, 0, 0, false},
		{"low level inside suppression window", withAlert(reading(30), sixDaysAgo), sample(18), DecisionUpdate, 0, 0, false},
		{"low level after suppression window", withAlert(reading(30), eightDaysAgo), sample(18), DecisionUpdate, 0, 0, true},
		{"alert band upper bound is inclusive", reading(30), sample(20), DecisionUpdate, 0, 0, true},
		{"above alert band", reading(30), sample(21), DecisionUpdate, 0, 0, false},
		{"empty gauge does not alert", reading(10), sample(0), DecisionUpdate, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.prev, tt.sample, testNow, DefaultPolicy())
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantDue, got.AlertDue, "AlertDue")

			switch tt.wantKind {
			case DecisionNoSignal, DecisionNoise:
				assert.Nil(t, got.Update, "nothing may be persisted")
				return
			}
			require.NotNil(t, got.Update)
			assert.Equal(t, *tt.sample.Level, got.Update.Level)
			assert.Equal(t, "SN-NEW", got.Update.Serial)
			assert.EqualValues(t, 1500, got.Update.PageCounter)
			assert.Equal(t, tt.wantInc, got.Update.ReplacementIncrement)
			assert.Equal(t, tt.wantRes, got.Update.ReserveDelta)
			if tt.wantKind == DecisionReplacement {
				require.NotNil(t, got.Update.LastChangeAt)
				assert.True(t, got.Update.LastChangeAt.Equal(testNow))
			} else {
				assert.Nil(t, got.Update.LastChangeAt)
			}
		})
	}
}

func TestClassify_KeepsStoredIdentityWhenAbsent(t *testing.T) {
	level := 60
	got := Classify(reading(40), Sample{Level: &level}, testNow, DefaultPolicy())
	require.NotNil(t, got.Update)
	assert.Equal(t, "SN-OLD", got.Update.Serial)
	assert.EqualValues(t, 1000, got.Update.PageCounter)
}

func TestClassify_CustomPolicy(t *testing.T) {
	p := Policy{ReplacementDelta: 30, UpdateDelta: 2, LowLevel: 10, SuppressionWindow: time.Hour}
	assert.Equal(t, DecisionReplacement, Classify(reading(40), sample(75), testNow, p).Kind)
	assert.Equal(t, DecisionUpdate, Classify(reading(40), sample(37), testNow, p).Kind)
	assert.False(t, Classify(reading(40), sample(15), testNow, p).AlertDue)
}

func TestClassify_DecreasingSequenceNeverReplaces(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for run := range 200 {
		prev := models.ConsumableReading{}
		level := 100
		for step := 0; level > 0; step++ {
			d := Classify(prev, sample(level), testNow, DefaultPolicy())
			if d.Kind == DecisionReplacement {
				t.Fatalf("run %d step %d: replacement on decreasing level %d", run, step, level)
			}
			if d.Update != nil {
				prev.Level = models.IntPtr(d.Update.Level)
			}
			level -= rng.IntN(80)
		}
	}
}

func TestClassify_NoiseIsIdempotent(t *testing.T) {
	prev := reading(50)
	for _, level := range []int{50, 51, 55, 45, 49, 53, 47} {
		d := Classify(prev, sample(level), testNow, DefaultPolicy())
		assert.Equal(t, DecisionNoise, d.Kind, "level %d", level)
		assert.Nil(t, d.Update)
		assert.False(t, d.AlertDue)
	}
}

func TestSampleFromSNMP(t *testing.T) {
	oids := DefaultConfig().OIDs
	tests := []struct {
		name      string
		res       probe.SNMPResult
		wantLevel *int
	}{
		{"failed get", probe.SNMPResult{Err: errors.New("timeout")}, nil},
		{"level absent", probe.SNMPResult{Values: map[string]probe.Value{
			oids.Serial: {Type: gosnmp.OctetString, Raw: []byte("SN")},
		}}, nil},
		{"level not numeric", probe.SNMPResult{Values: map[string]probe.Value{
			oids.Level: {Type: gosnmp.OctetString, Raw: []byte("OK")},
		}}, nil},
		{"level unknown marker", probe.SNMPResult{Values: map[string]probe.Value{
			oids.Level: {Type: gosnmp.Integer, Raw: -2},
		}}, nil},
		{"level present", probe.SNMPResult{Values: map[string]probe.Value{
			oids.Level: {Type: gosnmp.Integer, Raw: 64},
		}}, models.IntPtr(64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleFromSNMP(tt.res, oids)
			assert.Equal(t, tt.wantLevel, got.Level)
		})
	}
}

func TestTonerEngine_BaselineScenario(t *testing.T) {
	h := newHarness(t)
	p := h.addDevice(t, testutil.WithAddress("10.0.0.10"))
	h.snmp.printer("10.0.0.10", models.IntPtr(45), "SN1", 100)

	dec, err := h.m.toner.Poll(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, DecisionBaseline, dec.Kind)
	assert.False(t, dec.AlertDue)

	c := h.consumable(t, p.ID)
	require.NotNil(t, c.Level)
	assert.Equal(t, 45, *c.Level)
	assert.Equal(t, 0, c.ReplacementCount)
	assert.Nil(t, c.LastChangeAt)
}

func TestTonerEngine_ReplacementScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addDevice(t, testutil.WithAddress("10.0.0.11"))
	require.NoError(t, h.registry.InitConsumable(ctx, p.ID, models.IntPtr(15), "SN1", 100, 3))
	h.snmp.printer("10.0.0.11", models.IntPtr(70), "SN2", 150)

	dec, err := h.m.toner.Poll(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, DecisionReplacement, dec.Kind)
	assert.False(t, dec.AlertDue)

	c := h.consumable(t, p.ID)
	assert.Equal(t, 70, *c.Level)
	assert.Equal(t, 15, *c.PreviousLevel)
	assert.Equal(t, 1, c.ReplacementCount)
	assert.Equal(t, 2, c.ReserveStock)
	require.NotNil(t, c.LastChangeAt)
	assert.True(t, c.LastChangeAt.Equal(h.clock.Now()))
	assert.Len(t, h.bus.Topic(TopicTonerReplaced), 1)
}

func TestTonerEngine_NoSignalLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addDevice(t, testutil.WithAddress("10.0.0.12"))
	require.NoError(t, h.registry.InitConsumable(ctx, p.ID, models.IntPtr(40), "SN1", 100, 1))
	before := h.consumable(t, p.ID)

	// Unreachable agent.
	dec, err := h.m.toner.Poll(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, DecisionNoSignal, dec.Kind)

	// Agent up but level object missing.
	h.snmp.printer("10.0.0.12", nil, "SN9", 999)
	dec, err = h.m.toner.Poll(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, DecisionNoSignal, dec.Kind)

	assert.Equal(t, before, h.consumable(t, p.ID))
}

func TestTonerEngine_NoiseDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addDevice(t, testutil.WithAddress("10.0.0.13"))
	require.NoError(t, h.registry.InitConsumable(ctx, p.ID, models.IntPtr(50), "SN1", 100, 1))
	before := h.consumable(t, p.ID)

	h.snmp.printer("10.0.0.13", models.IntPtr(53), "SN1", 180)
	for range 3 {
		dec, err := h.m.toner.Poll(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, DecisionNoise, dec.Kind)
	}
	assert.Equal(t, before, h.consumable(t, p.ID))
}

func TestTonerEngine_ReserveNeverNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addDevice(t, testutil.WithAddress("10.0.0.14"))
	require.NoError(t, h.registry.InitConsumable(ctx, p.ID, models.IntPtr(5), "SN1", 100, 1))
	h.snmp.printer("10.0.0.14", models.IntPtr(5), "SN1", 100)

	for i := range 4 {
		level := 5
		if i%2 == 0 {
			level = 95
		}
		h.snmp.setLevel("10.0.0.14", level)
		_, err := h.m.toner.Poll(ctx, p)
		require.NoError(t, err)

		c := h.consumable(t, p.ID)
		assert.GreaterOrEqual(t, c.ReserveStock, 0)
	}
	c := h.consumable(t, p.ID)
	assert.Equal(t, 2, c.ReplacementCount)
	assert.Equal(t, 0, c.ReserveStock)
}
