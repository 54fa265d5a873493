package driver

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/gravitational/trace"
)

// Manifests are rendered as JSON via text/template (with the sprig funcmap,
// matching the teacher's lib/helm chart-templating convention) and then
// json.Unmarshal'd into typed k8s.io/api objects — mirroring the original's
// handlebars-render-then-serde_json::from_str pipeline in kube_derive.rs,
// swapped for Go's standard templating/JSON stack.

const claimTemplate = `{
  "apiVersion": "v1",
  "kind": "PersistentVolumeClaim",
  "metadata": {"name": {{.Name | quote}}},
  "spec": {
    "accessModes": [{{.AccessMode | quote}}],
    "storageClassName": {{.ClassName | quote}},
    "resources": {"requests": {"storage": {{.Capacity | quote}}}}
  }
}`

const statefulSetTemplate = `{
  "apiVersion": "apps/v1",
  "kind": "StatefulSet",
  "metadata": {"name": {{.StatefulSetName | quote}}, "namespace": {{.Namespace | quote}}},
  "spec": {
    "serviceName": {{.ServiceName | quote}},
    "replicas": {{.Replicas}},
    "selector": {"matchLabels": {"jiaoziflow/node": {{.Name | quote}}}},
    "template": {
      "metadata": {"labels": {"jiaoziflow/node": {{.Name | quote}}}},
      "spec": {
        "containers": [
          {
            "name": "tracker",
            "image": "jiaoziflow/tracker:latest",
            "env": [
              {"name": "MACHINE_NAME", "value": {{.Name | quote}}},
              {"name": "NODE_NAME", "value": {{.Name | quote}}},
              {"name": "MONGO_URL", "value": {{.DBURL | quote}}},
              {"name": "LOG_LEVEL", "value": {{.LogLevel | quote}}},
              {"name": "IPC_SOCKET_PATH", "value": {{.IPCSocketPath | quote}}}
            ],
            "volumeMounts": [
              {"name": "data", "mountPath": "/data"},
              {"name": "ipc", "mountPath": "/var/run/jiaoziflow"}
            ]
          }{{if not .IsChannel}},
          {
            "name": "user",
            "image": {{.Image | quote}},
            "command": {{.Cmd | toJson}},
            "env": [
              {"name": "IPC_SOCKET_PATH", "value": {{.IPCSocketPath | quote}}}
            ],
            "volumeMounts": [
              {"name": "data", "mountPath": "/data"},
              {"name": "ipc", "mountPath": "/var/run/jiaoziflow"}
            ]
          }{{end}}
        ],
        "volumes": [
          {"name": "ipc", "emptyDir": {}}
        ]
      }
    },
    "volumeClaimTemplates": [
      {
        "metadata": {"name": "data"},
        "spec": {
          "accessModes": [{{.AccessMode | quote}}],
          "storageClassName": {{.ClassName | quote}},
          "resources": {"requests": {"storage": {{.Capacity | quote}}}}
        }
      }
    ]
  }
}`

const serviceTemplate = `{
  "apiVersion": "v1",
  "kind": "Service",
  "metadata": {"name": {{.ServiceName | quote}}, "namespace": {{.Namespace | quote}}},
  "spec": {
    "clusterIP": "None",
    "selector": {"jiaoziflow/node": {{.Name | quote}}},
    "ports": [{"name": "transfer", "port": 80, "targetPort": 7000}]
  }
}`

type claimRenderParams struct {
	Name       string
	ClassName  string
	Capacity   string
	AccessMode string
}

type nodeRenderParams struct {
	Name            string
	Namespace       string
	Image           string
	Cmd             []string
	Replicas        uint32
	ClassName       string
	Capacity        string
	AccessMode      string
	DBURL           string
	LogLevel        string
	IPCSocketPath   string
	StatefulSetName string
	ServiceName     string
	ClaimName       string
	IsChannel       bool
}

type serviceRenderParams struct {
	Name        string
	Namespace   string
	ServiceName string
}

func mustParseTemplate(name, body string) *template.Template {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(body)
	if err != nil {
		panic(trace.Wrap(err, "parsing builtin %v template", name))
	}
	return t
}

var (
	claimTpl       = mustParseTemplate("claim", claimTemplate)
	statefulSetTpl = mustParseTemplate("statefulset", statefulSetTemplate)
	serviceTpl     = mustParseTemplate("service", serviceTemplate)
)

func render(t *template.Template, params interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return nil, trace.Wrap(err, "rendering %v template", t.Name())
	}
	return buf.Bytes(), nil
}
