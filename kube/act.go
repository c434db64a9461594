package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/yaml"
)

// Apply performs a server-side apply of every document in a multi-document
// YAML manifest and reports the applied resources.
func (c *Client) Apply(ctx context.Context, manifestYAML string) (string, error) {
	if c.dynamic == nil || c.mapper == nil {
		return "", goerr.Wrap(remedy.ErrInternalWiring, "dynamic client is not configured")
	}

	decoder := yamlutil.NewYAMLOrJSONDecoder(bytes.NewReader([]byte(manifestYAML)), 4096)
	var applied []string
	for {
		var doc map[string]any
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return "", goerr.Wrap(err, "manifest is not valid YAML")
		}
		if len(doc) == 0 {
			continue
		}

		obj := &unstructured.Unstructured{Object: doc}
		gvk := obj.GroupVersionKind()
		if gvk.Kind == "" {
			return "", goerr.New("manifest document is missing kind")
		}
		if obj.GetName() == "" {
			return "", goerr.New("manifest document is missing metadata.name",
				goerr.V("kind", gvk.Kind))
		}

		ri, err := c.resourceFor(gvk, obj.GetNamespace())
		if err != nil {
			return "", err
		}

		data, err := json.Marshal(obj)
		if err != nil {
			return "", goerr.Wrap(err, "failed to encode manifest document")
		}

		out, err := ri.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
			FieldManager: fieldManager,
			Force:        boolPtr(true),
		})
		if err != nil {
			return "", wrapAPIError(err, "failed to apply manifest",
				goerr.V("kind", gvk.Kind), goerr.V("name", obj.GetName()))
		}
		applied = append(applied, fmt.Sprintf("%s/%s configured", strings.ToLower(gvk.Kind), out.GetName()))
	}

	if len(applied) == 0 {
		return "", goerr.New("manifest contains no documents")
	}
	return strings.Join(applied, "\n"), nil
}

// PatchResource merge-patches a named resource. The resource argument is
// kind/name form, e.g. "deployment/my-app". The patch may be JSON or YAML.
func (c *Client) PatchResource(ctx context.Context, namespace, resource, patch string) (string, error) {
	ri, kind, name, err := c.resolve(resource, namespace)
	if err != nil {
		return "", err
	}

	patchJSON, err := yaml.YAMLToJSON([]byte(patch))
	if err != nil {
		return "", goerr.Wrap(err, "patch is not valid JSON or YAML")
	}

	out, err := ri.Patch(ctx, name, types.MergePatchType, patchJSON, metav1.PatchOptions{
		FieldManager: fieldManager,
	})
	if err != nil {
		return "", wrapAPIError(err, "failed to patch resource",
			goerr.V("resource", resource), goerr.V("namespace", namespace))
	}
	return fmt.Sprintf("%s/%s patched", kind, out.GetName()), nil
}

// RolloutRestart triggers a rolling restart of a workload by stamping the
// restartedAt annotation on its pod template, the same mechanism kubectl
// rollout restart uses.
func (c *Client) RolloutRestart(ctx context.Context, namespace, resource string) (string, error) {
	ri, kind, name, err := c.resolve(resource, namespace)
	if err != nil {
		return "", err
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().UTC().Format(time.RFC3339))

	out, err := ri.Patch(ctx, name, types.MergePatchType, []byte(patch), metav1.PatchOptions{
		FieldManager: fieldManager,
	})
	if err != nil {
		return "", wrapAPIError(err, "failed to restart workload",
			goerr.V("resource", resource), goerr.V("namespace", namespace))
	}
	return fmt.Sprintf("%s/%s restarted", kind, out.GetName()), nil
}

// DeletePod deletes one pod. For managed workloads the controller replaces
// it, which is the point.
func (c *Client) DeletePod(ctx context.Context, namespace, pod string) (string, error) {
	err := c.clientset.CoreV1().Pods(namespace).Delete(ctx, pod, metav1.DeleteOptions{})
	if err != nil {
		return "", wrapAPIError(err, "failed to delete pod", podValues(namespace, pod)...)
	}
	return fmt.Sprintf("pod/%s deleted", pod), nil
}

// resolve turns a kind/name reference into a namespaced dynamic resource
// interface.
func (c *Client) resolve(resource, namespace string) (dynamic.ResourceInterface, string, string, error) {
	if c.dynamic == nil || c.mapper == nil {
		return nil, "", "", goerr.Wrap(remedy.ErrInternalWiring, "dynamic client is not configured")
	}

	kind, name, ok := strings.Cut(resource, "/")
	if !ok || kind == "" || name == "" {
		return nil, "", "", goerr.New("resource must be in kind/name form",
			goerr.V("resource", resource))
	}

	gvr, err := c.mapper.ResourceFor(schema.GroupVersionResource{Resource: strings.ToLower(kind)})
	if err != nil {
		return nil, "", "", wrapAPIError(err, "unknown resource kind", goerr.V("kind", kind))
	}

	gk, err := c.mapper.KindFor(gvr)
	if err != nil {
		return nil, "", "", wrapAPIError(err, "failed to resolve resource kind", goerr.V("kind", kind))
	}

	ri, err := c.resourceFor(gk, namespace)
	if err != nil {
		return nil, "", "", err
	}
	return ri, strings.ToLower(kind), name, nil
}

func (c *Client) resourceFor(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, wrapAPIError(err, "failed to map resource kind", goerr.V("kind", gvk.Kind))
	}

	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ns := namespace
		if ns == "" {
			ns = metav1.NamespaceDefault
		}
		return c.dynamic.Resource(mapping.Resource).Namespace(ns), nil
	}
	return c.dynamic.Resource(mapping.Resource), nil
}

func boolPtr(v bool) *bool { return &v }
