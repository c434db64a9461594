package helm

import (
	"fmt"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/cli"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// Client runs Helm release operations against the cluster the agent is
// connected to. An action configuration is built per operation so each
// call targets its own namespace.
type Client struct {
	getter   genericclioptions.RESTClientGetter
	settings *cli.EnvSettings
	logger   *slog.Logger
}

// restConfigGetter adapts an already-resolved rest.Config to the getter
// interface the Helm SDK wants. The agent connects once; Helm reuses that
// connection instead of re-reading a kubeconfig.
type restConfigGetter struct {
	cfg *rest.Config
}

func (g *restConfigGetter) ToRESTConfig() (*rest.Config, error) {
	return g.cfg, nil
}

func (g *restConfigGetter) ToDiscoveryClient() (discovery.CachedDiscoveryInterface, error) {
	dc, err := discovery.NewDiscoveryClientForConfig(g.cfg)
	if err != nil {
		return nil, err
	}
	return memory.NewMemCacheClient(dc), nil
}

func (g *restConfigGetter) ToRESTMapper() (meta.RESTMapper, error) {
	dc, err := g.ToDiscoveryClient()
	if err != nil {
		return nil, err
	}
	return restmapper.NewDeferredDiscoveryRESTMapper(dc), nil
}

func (g *restConfigGetter) ToRawKubeConfigLoader() clientcmd.ClientConfig {
	return clientcmd.NewDefaultClientConfig(*clientcmdapi.NewConfig(), &clientcmd.ConfigOverrides{})
}

// New builds a Helm client over the given rest.Config.
func New(cfg *rest.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, goerr.New("rest config is required for helm operations")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		getter:   &restConfigGetter{cfg: cfg},
		settings: cli.New(),
		logger:   logger,
	}, nil
}

// newActionConfig initializes a per-namespace action configuration with
// the secret storage driver, matching default Helm behavior.
func (c *Client) newActionConfig(namespace string) (*action.Configuration, error) {
	cfg := new(action.Configuration)
	debugLog := func(format string, v ...interface{}) {
		c.logger.Debug(fmt.Sprintf(format, v...))
	}
	if err := cfg.Init(c.getter, namespace, "secret", debugLog); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize helm action configuration",
			goerr.V("namespace", namespace))
	}
	return cfg, nil
}
