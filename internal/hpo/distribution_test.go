package hpo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntDistributionValidate(t *testing.T) {
	tests := []struct {
		name    string
		dist    IntDistribution
		wantErr bool
	}{
		{name: "valid range", dist: IntDistribution{Low: 0, High: 10, Step: 1}},
		{name: "single point", dist: IntDistribution{Low: 5, High: 5, Step: 1}},
		{name: "valid step", dist: IntDistribution{Low: 0, High: 10, Step: 3}},
		{name: "valid log", dist: IntDistribution{Low: 1, High: 1024, Step: 1, Log: true}},
		{name: "inverted bounds", dist: IntDistribution{Low: 10, High: 0, Step: 1}, wantErr: true},
		{name: "zero step", dist: IntDistribution{Low: 0, High: 10, Step: 0}, wantErr: true},
		{name: "negative step", dist: IntDistribution{Low: 0, High: 10, Step: -2}, wantErr: true},
		{name: "step with log", dist: IntDistribution{Low: 1, High: 10, Step: 2, Log: true}, wantErr: true},
		{name: "log with low zero", dist: IntDistribution{Low: 0, High: 10, Step: 1, Log: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dist.validate("p")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsUsageError(err))
			} else {
				require.Nil(t, err)
			}
		})
	}
}

func TestFloatDistributionValidate(t *testing.T) {
	tests := []struct {
		name    string
		dist    FloatDistribution
		wantErr bool
	}{
		{name: "valid range", dist: FloatDistribution{Low: -1, High: 1}},
		{name: "single point", dist: FloatDistribution{Low: 0.5, High: 0.5}},
		{name: "valid step", dist: FloatDistribution{Low: 0, High: 1, Step: 0.25}},
		{name: "valid log", dist: FloatDistribution{Low: 1e-5, High: 1, Log: true}},
		{name: "inverted bounds", dist: FloatDistribution{Low: 1, High: -1}, wantErr: true},
		{name: "negative step", dist: FloatDistribution{Low: 0, High: 1, Step: -0.1}, wantErr: true},
		{name: "step with log", dist: FloatDistribution{Low: 0.1, High: 1, Step: 0.1, Log: true}, wantErr: true},
		{name: "log with low zero", dist: FloatDistribution{Low: 0, High: 1, Log: true}, wantErr: true},
		{name: "log with negative low", dist: FloatDistribution{Low: -0.5, High: 1, Log: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dist.validate("p")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsUsageError(err))
			} else {
				require.Nil(t, err)
			}
		})
	}
}

func TestCategoricalDistributionValidate(t *testing.T) {
	tests := []struct {
		name    string
		choices []interface{}
		wantErr bool
	}{
		{name: "strings", choices: []interface{}{"adam", "sgd"}},
		{name: "bools", choices: []interface{}{true, false}},
		{name: "ints widen", choices: []interface{}{int64(1), int64(2), int64(4)}},
		{name: "empty", choices: nil, wantErr: true},
		{name: "mixed kinds", choices: []interface{}{"adam", int64(1)}, wantErr: true},
		{name: "unsupported type", choices: []interface{}{struct{}{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CategoricalDistribution{Choices: tt.choices}.validate("p")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.Nil(t, err)
			}
		})
	}
}

func TestDistributionExternal(t *testing.T) {
	assert.Equal(t, int64(3), IntDistribution{Low: 0, High: 10, Step: 1}.External(3.0))
	assert.Equal(t, 0.25, FloatDistribution{Low: 0, High: 1}.External(0.25))

	cat := CategoricalDistribution{Choices: []interface{}{"a", "b", "c"}}
	assert.Equal(t, "b", cat.External(1.0))
	assert.Nil(t, cat.External(7.0))
}

func TestDistributionContains(t *testing.T) {
	d := IntDistribution{Low: 0, High: 10, Step: 1}
	assert.True(t, d.Contains(0))
	assert.True(t, d.Contains(10))
	assert.False(t, d.Contains(11))

	f := FloatDistribution{Low: -1, High: 1}
	assert.True(t, f.Contains(-1))
	assert.False(t, f.Contains(1.001))

	c := CategoricalDistribution{Choices: []interface{}{true, false}}
	assert.True(t, c.Contains(1))
	assert.False(t, c.Contains(2))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, int64(3), normalizeCategory(3))
	assert.Equal(t, int64(3), normalizeCategory(int32(3)))
	assert.Equal(t, 1.5, normalizeCategory(float32(1.5)))
	assert.Equal(t, "x", normalizeCategory("x"))
}
