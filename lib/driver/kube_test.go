package driver

import (
	"context"
	"testing"

	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

const sampleDagJSON = `{
  "name": "demo",
  "version": "1",
  "dag": [
    {
      "name": "split",
      "dependency": [],
      "spec": {"image": "demo/split:latest", "cmd": ["/bin/split"], "replicas": 1,
        "storage": {"class_name": "standard", "capacity": "1Gi", "access_mode": "ReadWriteOnce"}},
      "channel": {"spec": {"image": "", "cmd": [], "replicas": 1,
        "storage": {"class_name": "standard", "capacity": "1Gi", "access_mode": "ReadWriteOnce"}}}
    },
    {
      "name": "count",
      "dependency": ["split"],
      "spec": {"image": "demo/count:latest", "cmd": ["/bin/count"], "replicas": 2,
        "storage": {"class_name": "standard", "capacity": "2Gi", "access_mode": "ReadWriteOnce"}}
    }
  ]
}`

func TestKubeDriver_DeployCreatesResourcesPerNode(t *testing.T) {
	g, err := dag.FromJSON([]byte(sampleDagJSON))
	require.NoError(t, err)

	client := fake.NewSimpleClientset()
	d := NewKubeDriver(client, KubeOptions{DBURL: "mongodb://mongo:27017"}, nil)

	ctx := context.Background()
	pc, err := d.Deploy(ctx, "demo-1", g)
	require.NoError(t, err)
	require.NotNil(t, pc)

	ns, err := client.CoreV1().Namespaces().Get(ctx, "demo-1", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "demo-1", ns.Name)

	_, err = client.AppsV1().StatefulSets("demo-1").Get(ctx, "split-statefulset", metav1.GetOptions{})
	require.NoError(t, err)
	_, err = client.AppsV1().StatefulSets("demo-1").Get(ctx, "split-channel-statefulset", metav1.GetOptions{})
	require.NoError(t, err)
	_, err = client.AppsV1().StatefulSets("demo-1").Get(ctx, "count-statefulset", metav1.GetOptions{})
	require.NoError(t, err)

	_, err = client.CoreV1().PersistentVolumeClaims("demo-1").Get(ctx, "count-claim", metav1.GetOptions{})
	require.NoError(t, err)
	_, err = client.CoreV1().Services("demo-1").Get(ctx, "split-service", metav1.GetOptions{})
	require.NoError(t, err)

	h, err := pc.GetNode("count")
	require.NoError(t, err)
	require.Equal(t, "count", h.Name())

	require.Equal(t, []string{"split", "count"}, pc.NodesInOrder())
}

func TestKubeDriver_Clean(t *testing.T) {
	client := fake.NewSimpleClientset()
	d := NewKubeDriver(client, KubeOptions{DBURL: "mongodb://mongo:27017"}, nil)
	ctx := context.Background()

	_, err := client.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-1"},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, d.Clean(ctx, "demo-1"))

	_, err = client.CoreV1().Namespaces().Get(ctx, "demo-1", metav1.GetOptions{})
	require.Error(t, err)

	// Cleaning an already-absent namespace is not an error.
	require.NoError(t, d.Clean(ctx, "demo-1"))
}

func TestKubeHandler_PauseAndStart(t *testing.T) {
	g, err := dag.FromJSON([]byte(sampleDagJSON))
	require.NoError(t, err)

	client := fake.NewSimpleClientset()
	d := NewKubeDriver(client, KubeOptions{DBURL: "mongodb://mongo:27017"}, nil)
	ctx := context.Background()

	pc, err := d.Deploy(ctx, "demo-1", g)
	require.NoError(t, err)

	h, err := pc.GetNode("count")
	require.NoError(t, err)

	require.NoError(t, h.Pause(ctx))
	ss, err := client.AppsV1().StatefulSets("demo-1").Get(ctx, "count-statefulset", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(0), *ss.Spec.Replicas)

	require.NoError(t, h.Start(ctx))
	ss, err = client.AppsV1().StatefulSets("demo-1").Get(ctx, "count-statefulset", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(2), *ss.Spec.Replicas)
}
