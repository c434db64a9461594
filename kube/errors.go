package kube

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// wrapAPIError tags a Kubernetes API error so the executor can classify
// the failure without importing apimachinery.
func wrapAPIError(err error, msg string, values ...goerr.Option) error {
	if err == nil {
		return nil
	}

	opts := append([]goerr.Option{}, values...)
	switch {
	case apierrors.IsNotFound(err):
		opts = append(opts, goerr.Tag(remedy.TagNotFound))
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		opts = append(opts, goerr.Tag(remedy.TagPermissionDenied))
	case apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		opts = append(opts, goerr.Tag(remedy.TagTimeout))
	case apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) || apierrors.IsConflict(err):
		opts = append(opts, goerr.Tag(remedy.TagTransient))
	}

	return goerr.Wrap(err, msg, opts...)
}
