package kube

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// fieldManager identifies this agent in server-side apply operations.
const fieldManager = "remedy"

// Client wraps the typed and dynamic Kubernetes clients behind the
// operations the tool catalog needs.
type Client struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	mapper    meta.RESTMapper
	restCfg   *rest.Config
}

// NewClient connects to the cluster: in-cluster configuration first,
// falling back to the given kubeconfig path, then to the default
// ~/.kube/config location.
func NewClient(kubeconfig string) (*Client, error) {
	cfg, err := restConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create kubernetes clientset")
	}

	dynamicClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create dynamic client")
	}

	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create discovery client")
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(dc))

	return &Client{
		clientset: clientset,
		dynamic:   dynamicClient,
		mapper:    mapper,
		restCfg:   cfg,
	}, nil
}

// NewFromClientset builds a client over an existing typed clientset. The
// dynamic paths (apply, patch, rollout restart) are unavailable; monitor
// detection and the observe tools work. Used with the fake clientset in
// tests.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// RESTConfig returns the rest.Config the client was built from. The Helm
// backend reuses it so both speak to the same cluster.
func (c *Client) RESTConfig() *rest.Config {
	return c.restCfg
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	path := kubeconfig
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve home directory for kubeconfig")
		}
		path = filepath.Join(home, ".kube", "config")
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load kubeconfig", goerr.V("path", path))
	}
	return cfg, nil
}
