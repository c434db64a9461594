package tools

import (
	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/helm"
	"github.com/m-mizutani/remedy/kube"
	"github.com/m-mizutani/remedy/loki"
	"github.com/m-mizutani/remedy/prom"
)

// Backends holds the clients the catalog draws on. Nil backends drop
// their tools, so a deployment without Loki simply offers a smaller
// catalog instead of tools that always fail.
type Backends struct {
	Kube *kube.Client
	Helm *helm.Client
	Loki *loki.Client
	Prom *prom.Client
}

// Catalog assembles the tool list for the configured backends.
func Catalog(b Backends) []remedy.Tool {
	var catalog []remedy.Tool
	if b.Kube != nil {
		catalog = append(catalog, KubeTools(b.Kube)...)
	}
	if b.Helm != nil {
		catalog = append(catalog, HelmTools(b.Helm)...)
	}
	if b.Loki != nil {
		catalog = append(catalog, LokiTools(b.Loki)...)
	}
	if b.Prom != nil {
		catalog = append(catalog, PromTools(b.Prom)...)
	}
	return catalog
}
