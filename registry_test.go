package remedy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/remedy"
)

func TestRegistryDuplicateName(t *testing.T) {
	_, err := remedy.NewRegistry(observeTool("inspect"), observeTool("inspect"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrToolNameConflict))
}

func TestRegistryRejectsBrokenSpec(t *testing.T) {
	broken := observeTool("")
	_, err := remedy.NewRegistry(broken)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrInvalidTool))
}

func TestRegistryListOrder(t *testing.T) {
	registry, err := remedy.NewRegistry(
		observeTool("charlie"), observeTool("alpha"), observeTool("bravo"))
	gt.NoError(t, err)

	specs := registry.List()
	gt.A(t, specs).Length(3)
	gt.Equal(t, specs[0].Name, "charlie")
	gt.Equal(t, specs[1].Name, "alpha")
	gt.Equal(t, specs[2].Name, "bravo")
	gt.Equal(t, registry.Len(), 3)
}

func TestRegistryResolve(t *testing.T) {
	registry, err := remedy.NewRegistry(observeTool("inspect"))
	gt.NoError(t, err)

	spec, err := registry.Resolve("inspect")
	gt.NoError(t, err)
	gt.Equal(t, spec.Name, "inspect")

	_, err = registry.Resolve("nonexistent")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrUnknownTool))
	gt.True(t, goerr.HasTag(err, remedy.TagNotFound))
}

func TestRegistryValidate(t *testing.T) {
	registry, err := remedy.NewRegistry(observeTool("inspect"))
	gt.NoError(t, err)

	cases := map[string]struct {
		args    map[string]any
		wantErr bool
	}{
		"valid":            {args: map[string]any{"target": "pod-a"}, wantErr: false},
		"missing required": {args: map[string]any{}, wantErr: true},
		"wrong type":       {args: map[string]any{"target": 42}, wantErr: true},
		"nil arguments":    {args: nil, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := registry.Validate(remedy.ToolCall{ID: "c1", Name: "inspect", Arguments: tc.args})
			if tc.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestRegistryValidateUnknownTool(t *testing.T) {
	registry, err := remedy.NewRegistry(observeTool("inspect"))
	gt.NoError(t, err)

	err = registry.Validate(remedy.ToolCall{Name: "nope", Arguments: map[string]any{}})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrUnknownTool))
}

func TestRegistryValidateObjectParameter(t *testing.T) {
	tool := &toolWithObjectArg{}
	registry, err := remedy.NewRegistry(tool)
	gt.NoError(t, err)

	gt.NoError(t, registry.Validate(remedy.ToolCall{
		Name:      "patch",
		Arguments: map[string]any{"patch": map[string]any{"spec": map[string]any{"replicas": 3}}},
	}))

	err = registry.Validate(remedy.ToolCall{
		Name:      "patch",
		Arguments: map[string]any{"patch": "not an object"},
	})
	gt.Error(t, err)
}

type toolWithObjectArg struct{}

func (t *toolWithObjectArg) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "patch",
		Description: "apply a structured patch",
		Parameters: map[string]*remedy.Parameter{
			"patch": {Type: remedy.TypeObject, Properties: map[string]*remedy.Parameter{}},
		},
		Required: []string{"patch"},
	}
}

func (t *toolWithObjectArg) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}
