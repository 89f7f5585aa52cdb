package engine

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// kindOrder is the intra-application apply order: cluster scaffolding
// before configuration, configuration before workloads. Unlisted kinds
// apply last, alphabetically for determinism.
var kindOrder = map[string]int{
	"Namespace":                1,
	"ResourceQuota":            2,
	"LimitRange":               3,
	"CustomResourceDefinition": 4,
	"ServiceAccount":           5,
	"ClusterRole":              6,
	"ClusterRoleBinding":       7,
	"Role":                     8,
	"RoleBinding":              9,
	"ConfigMap":                10,
	"Secret":                   11,
	"PersistentVolume":         12,
	"PersistentVolumeClaim":    13,
	"Service":                  14,
	"DaemonSet":                15,
	"Deployment":               16,
	"StatefulSet":              17,
	"Job":                      18,
	"CronJob":                  19,
}

// renderManifests reads every YAML file under the application's source
// path, renders it as a template with the application's values and parses
// the documents into unstructured objects. Objects get the ownership labels
// and a defaulted namespace, and come back in apply order.
func renderManifests(snap source.Snapshot, app v1alpha1.Application, rootName string) ([]*unstructured.Unstructured, error) {
	paths, err := snap.List(app.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s at revision %s: %w", app.Source.Path, app.Source.Revision, err)
	}

	var objs []*unstructured.Unstructured
	for _, path := range paths {
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			continue
		}

		content, err := snap.Read(path)
		if err != nil {
			return nil, err
		}

		rendered, err := renderTemplate(path, string(content), app.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", path, err)
		}

		docs, err := parseDocuments(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		objs = append(objs, docs...)
	}

	for _, obj := range objs {
		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[v1alpha1.ApplicationLabel] = app.Name
		labels[v1alpha1.RootLabel] = rootName
		obj.SetLabels(labels)

		if obj.GetNamespace() == "" && obj.GetKind() != "Namespace" {
			obj.SetNamespace(app.Destination.Namespace)
		}
	}

	sortApplyOrder(objs)
	return objs, nil
}

func renderTemplate(name, text string, values map[string]interface{}) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, struct {
		Values map[string]interface{}
	}{Values: values}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseDocuments(data []byte) ([]*unstructured.Unstructured, error) {
	var objs []*unstructured.Unstructured

	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	for {
		obj := map[string]interface{}{}
		err := decoder.Decode(&obj)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(obj) == 0 {
			continue
		}

		u := &unstructured.Unstructured{Object: obj}
		if u.GetKind() == "" || u.GetAPIVersion() == "" {
			return nil, fmt.Errorf("document has no apiVersion/kind")
		}
		if u.GetName() == "" {
			return nil, fmt.Errorf("%s document has no name", u.GetKind())
		}
		objs = append(objs, u)
	}

	return objs, nil
}

func sortApplyOrder(objs []*unstructured.Unstructured) {
	rank := func(u *unstructured.Unstructured) int {
		if r, ok := kindOrder[u.GetKind()]; ok {
			return r
		}
		return len(kindOrder) + 1
	}
	sort.SliceStable(objs, func(i, j int) bool {
		ri, rj := rank(objs[i]), rank(objs[j])
		if ri != rj {
			return ri < rj
		}
		if objs[i].GetKind() != objs[j].GetKind() {
			return objs[i].GetKind() < objs[j].GetKind()
		}
		return objs[i].GetName() < objs[j].GetName()
	})
}
