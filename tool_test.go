package remedy_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/remedy"
)

func TestToolSpecValidate(t *testing.T) {
	cases := map[string]struct {
		spec    remedy.ToolSpec
		wantErr bool
	}{
		"valid observe": {
			spec: remedy.ToolSpec{
				Name: "get_pod_logs",
				Parameters: map[string]*remedy.Parameter{
					"pod": {Type: remedy.TypeString},
				},
				Required: []string{"pod"},
			},
		},
		"empty name": {
			spec:    remedy.ToolSpec{},
			wantErr: true,
		},
		"unknown capability": {
			spec:    remedy.ToolSpec{Name: "x", Capability: remedy.Capability("destroy")},
			wantErr: true,
		},
		"required without declaration": {
			spec: remedy.ToolSpec{
				Name:     "x",
				Required: []string{"missing"},
			},
			wantErr: true,
		},
		"object without properties": {
			spec: remedy.ToolSpec{
				Name: "x",
				Parameters: map[string]*remedy.Parameter{
					"patch": {Type: remedy.TypeObject},
				},
			},
			wantErr: true,
		},
		"array without items": {
			spec: remedy.ToolSpec{
				Name: "x",
				Parameters: map[string]*remedy.Parameter{
					"names": {Type: remedy.TypeArray},
				},
			},
			wantErr: true,
		},
		"bad pattern": {
			spec: remedy.ToolSpec{
				Name: "x",
				Parameters: map[string]*remedy.Parameter{
					"id": {Type: remedy.TypeString, Pattern: "[unclosed"},
				},
			},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				gt.Error(t, err)
				gt.True(t, errors.Is(err, remedy.ErrInvalidTool) || errors.Is(err, remedy.ErrInvalidParameter))
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestToolSpecClassDefaultsToObserve(t *testing.T) {
	spec := &remedy.ToolSpec{Name: "x"}
	gt.Equal(t, spec.Class(), remedy.CapabilityObserve)

	spec.Capability = remedy.CapabilityAct
	gt.Equal(t, spec.Class(), remedy.CapabilityAct)
}

func TestParameterConstraintOrdering(t *testing.T) {
	lo, hi := 5.0, 1.0
	p := &remedy.Parameter{Type: remedy.TypeNumber, Minimum: &lo, Maximum: &hi}
	gt.Error(t, p.Validate())

	min, max := 3, 1
	s := &remedy.Parameter{Type: remedy.TypeString, MinLength: &min, MaxLength: &max}
	gt.Error(t, s.Validate())
}
