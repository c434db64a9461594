package helm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/storage/driver"
	"helm.sh/helm/v3/pkg/strvals"
)

const upgradeTimeout = 5 * time.Minute

// Upgrade upgrades a release to the given chart with --set style value
// overrides, installing it when the release does not exist yet. It
// returns a summary including the new revision.
func (c *Client) Upgrade(ctx context.Context, namespace, release, chartRef string, setValues map[string]string) (string, error) {
	cfg, err := c.newActionConfig(namespace)
	if err != nil {
		return "", err
	}

	vals := map[string]any{}
	keys := make([]string, 0, len(setValues))
	for k := range setValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := strvals.ParseInto(fmt.Sprintf("%s=%s", k, setValues[k]), vals); err != nil {
			return "", goerr.Wrap(err, "invalid set value", goerr.V("key", k))
		}
	}

	hist := action.NewHistory(cfg)
	hist.Max = 1
	_, histErr := hist.Run(release)
	if histErr != nil && !errors.Is(histErr, driver.ErrReleaseNotFound) {
		return "", goerr.Wrap(histErr, "failed to read release history",
			goerr.V("release", release), goerr.V("namespace", namespace))
	}

	if errors.Is(histErr, driver.ErrReleaseNotFound) {
		return c.install(ctx, cfg, namespace, release, chartRef, vals)
	}

	up := action.NewUpgrade(cfg)
	up.Namespace = namespace
	up.Timeout = upgradeTimeout

	ch, err := c.loadChart(&up.ChartPathOptions, chartRef)
	if err != nil {
		return "", err
	}

	rel, err := up.RunWithContext(ctx, release, ch, vals)
	if err != nil {
		return "", wrapHelmError(err, "helm upgrade failed", release, namespace)
	}
	return fmt.Sprintf("release %s upgraded to revision %d (chart %s-%s, status %s)",
		rel.Name, rel.Version, ch.Name(), ch.Metadata.Version, rel.Info.Status), nil
}

func (c *Client) install(ctx context.Context, cfg *action.Configuration, namespace, release, chartRef string, vals map[string]any) (string, error) {
	inst := action.NewInstall(cfg)
	inst.ReleaseName = release
	inst.Namespace = namespace
	inst.Timeout = upgradeTimeout

	ch, err := c.loadChart(&inst.ChartPathOptions, chartRef)
	if err != nil {
		return "", err
	}

	rel, err := inst.RunWithContext(ctx, ch, vals)
	if err != nil {
		return "", wrapHelmError(err, "helm install failed", release, namespace)
	}
	return fmt.Sprintf("release %s installed at revision %d (chart %s-%s, status %s)",
		rel.Name, rel.Version, ch.Name(), ch.Metadata.Version, rel.Info.Status), nil
}

func (c *Client) loadChart(opts *action.ChartPathOptions, chartRef string) (*chart.Chart, error) {
	path, err := opts.LocateChart(chartRef, c.settings)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to locate chart",
			goerr.V("chart", chartRef), goerr.Tag(remedy.TagNotFound))
	}
	ch, err := loader.Load(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load chart", goerr.V("chart", chartRef))
	}
	return ch, nil
}

func wrapHelmError(err error, msg, release, namespace string) error {
	opts := []goerr.Option{goerr.V("release", release), goerr.V("namespace", namespace)}
	switch {
	case errors.Is(err, driver.ErrReleaseNotFound):
		opts = append(opts, goerr.Tag(remedy.TagNotFound))
	case errors.Is(err, context.DeadlineExceeded):
		opts = append(opts, goerr.Tag(remedy.TagTimeout))
	}
	return goerr.Wrap(err, msg, opts...)
}
