package tools

import (
	"context"
	"fmt"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/helm"
)

// HelmTools returns the catalog entries backed by the Helm client.
func HelmTools(client *helm.Client) []remedy.Tool {
	return []remedy.Tool{
		&helmUpgradeTool{client: client},
	}
}

type helmUpgradeTool struct {
	client *helm.Client
}

func (t *helmUpgradeTool) Spec() *remedy.ToolSpec {
	return &remedy.ToolSpec{
		Name:        "helm_upgrade",
		Description: "Run a helm upgrade to change the configuration of a release. Use this to change chart values.",
		Capability:  remedy.CapabilityAct,
		Parameters: map[string]*remedy.Parameter{
			"release":   {Type: remedy.TypeString},
			"chart":     {Type: remedy.TypeString},
			"namespace": {Type: remedy.TypeString},
			"set_values": {
				Type:        remedy.TypeObject,
				Description: "Map of values to set, equivalent to --set key=value",
				Properties:  map[string]*remedy.Parameter{},
			},
		},
		Required: []string{"release", "chart", "namespace", "set_values"},
	}
}

func (t *helmUpgradeTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	setValues := map[string]string{}
	for k, v := range objArg(args, "set_values") {
		setValues[k] = fmt.Sprintf("%v", v)
	}

	out, err := t.client.Upgrade(ctx,
		strArg(args, "namespace"), strArg(args, "release"), strArg(args, "chart"), setValues)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": out}, nil
}
