package driver

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// kubeHandler is the UnitHandler for one DAG node's StatefulSet/PVC/Service
// trio. Translated from original_source's driver/kube.rs KubeHandler.
type kubeHandler struct {
	client    kubernetes.Interface
	namespace string
	nodeName  string
	nodeType  store.NodeType

	statefulSetName string
	claimName       string
	serviceName     string
	replicas        int32

	upNodes         []string
	outgoingStreams []string
}

var _ UnitHandler = (*kubeHandler)(nil)

func (h *kubeHandler) Name() string { return h.nodeName }

// Start scales the StatefulSet up to its configured replica count (a no-op
// if it's already there — Deploy already creates it at full scale; Start
// matters after Pause).
func (h *kubeHandler) Start(ctx context.Context) error {
	ss, err := h.client.AppsV1().StatefulSets(h.namespace).Get(ctx, h.statefulSetName, metav1.GetOptions{})
	if err != nil {
		return trace.Wrap(err, "reading statefulset %v", h.statefulSetName)
	}
	if ss.Spec.Replicas != nil && *ss.Spec.Replicas > 0 {
		return nil
	}
	want := h.replicas
	if want <= 0 {
		want = 1
	}
	ss.Spec.Replicas = &want
	_, err = h.client.AppsV1().StatefulSets(h.namespace).Update(ctx, ss, metav1.UpdateOptions{})
	return trace.Wrap(err, "scaling up statefulset %v", h.statefulSetName)
}

// Pause scales the StatefulSet to zero replicas without deleting it or its
// PVC, so Restart can bring it back with its volume intact.
func (h *kubeHandler) Pause(ctx context.Context) error {
	ss, err := h.client.AppsV1().StatefulSets(h.namespace).Get(ctx, h.statefulSetName, metav1.GetOptions{})
	if err != nil {
		return trace.Wrap(err, "reading statefulset %v", h.statefulSetName)
	}
	zero := int32(0)
	ss.Spec.Replicas = &zero
	_, err = h.client.AppsV1().StatefulSets(h.namespace).Update(ctx, ss, metav1.UpdateOptions{})
	return trace.Wrap(err, "scaling down statefulset %v", h.statefulSetName)
}

// Restart is Start after a Pause: scale back up.
func (h *kubeHandler) Restart(ctx context.Context) error {
	return h.Start(ctx)
}

// Stop scales the StatefulSet to zero and leaves its resources for Clean to
// remove later.
func (h *kubeHandler) Stop(ctx context.Context) error {
	return h.Pause(ctx)
}

// Status reports what the cluster itself knows about the node: its name,
// the StatefulSet's desired replica count and each pod's phase. It does not
// read the node's tracker state from the job store and reports no resource
// usage.
func (h *kubeHandler) Status(ctx context.Context) (NodeStatus, error) {
	ss, err := h.client.AppsV1().StatefulSets(h.namespace).Get(ctx, h.statefulSetName, metav1.GetOptions{})
	if err != nil {
		return NodeStatus{}, trace.Wrap(err, "reading statefulset %v", h.statefulSetName)
	}

	pods, err := h.client.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "jiaoziflow/node=" + h.nodeName,
	})
	if err != nil {
		return NodeStatus{}, trace.Wrap(err, "listing pods for %v", h.nodeName)
	}

	podStatuses := make(map[string]PodStatus, len(pods.Items))
	for _, pod := range pods.Items {
		podStatuses[pod.Name] = PodStatus{State: string(pod.Status.Phase)}
	}

	replicas := int32(0)
	if ss.Spec.Replicas != nil {
		replicas = *ss.Spec.Replicas
	}

	return NodeStatus{
		Name:     h.nodeName,
		Replicas: replicas,
		Pods:     podStatuses,
	}, nil
}
