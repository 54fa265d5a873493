package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// KubeDriver materializes a DAG as one StatefulSet + PersistentVolumeClaim +
// Service per node, namespaced per job. Translated from original_source's
// src/driver/kube_derive.rs, replacing handlebars + kube-rs with
// text/template + client-go.
type KubeDriver struct {
	client  kubernetes.Interface
	options KubeOptions
	log     jlog.Logger
}

// NewKubeDriver builds a KubeDriver against an already-configured clientset.
func NewKubeDriver(client kubernetes.Interface, options KubeOptions, log jlog.Logger) *KubeDriver {
	if log == nil {
		log = jlog.NewDefault("kube-driver")
	}
	return &KubeDriver{client: client, options: options.withDefaults(), log: log}
}

var _ Driver = (*KubeDriver)(nil)

// ensureNamespace deletes any existing namespace (waiting for the delete to
// complete with exponential backoff) and recreates it empty, matching
// kube_derive.rs's ensure_namespace_exit_and_clean.
func (d *KubeDriver) ensureNamespace(ctx context.Context, namespace string) error {
	nsAPI := d.client.CoreV1().Namespaces()
	if _, err := nsAPI.Get(ctx, namespace, metav1.GetOptions{}); err == nil {
		if err := nsAPI.Delete(ctx, namespace, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return trace.Wrap(err, "deleting namespace %v", namespace)
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxElapsedTime = 20 * time.Second
		waitErr := backoff.Retry(func() error {
			_, getErr := nsAPI.Get(ctx, namespace, metav1.GetOptions{})
			if apierrors.IsNotFound(getErr) {
				return nil
			}
			if getErr != nil {
				return backoff.Permanent(trace.Wrap(getErr))
			}
			return trace.Errorf("namespace %v still present", namespace)
		}, backoff.WithContext(b, ctx))
		if waitErr != nil {
			return trace.Wrap(waitErr, "waiting for namespace %v deletion", namespace)
		}
	} else if !apierrors.IsNotFound(err) {
		return trace.Wrap(err, "checking namespace %v", namespace)
	}

	_, err := nsAPI.Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: namespace},
	}, metav1.CreateOptions{})
	return trace.Wrap(err, "creating namespace %v", namespace)
}

// Deploy provisions a brand-new namespace for the job and materializes
// every node's StatefulSet/PVC/Service.
func (d *KubeDriver) Deploy(ctx context.Context, namespace string, g *dag.Dag) (PipelineController, error) {
	if err := d.ensureNamespace(ctx, namespace); err != nil {
		return nil, trace.Wrap(err)
	}

	handlers := make(map[string]*kubeHandler, g.Len())
	var deployErr error
	_ = g.Iter(func(cu *dag.ComputeUnit) error {
		upNodes := g.GetIncomingNodes(cu.Name)
		downNodes := g.GetOutgoingNodes(cu.Name)

		h, err := d.deployNode(ctx, namespace, cu.Name, cu.Image, cu.Cmd, cu.Replicas, cu.Storage, false, upNodes, downNodes)
		if err != nil {
			deployErr = trace.Wrap(err, "deploying node %v", cu.Name)
			return deployErr
		}
		handlers[cu.Name] = h

		if cu.Channel != nil {
			ch := cu.Channel
			chUp := []string{cu.Name}
			chHandler, err := d.deployNode(ctx, namespace, ch.Name, "", nil, ch.Replicas, ch.Storage, true, chUp, downNodes)
			if err != nil {
				deployErr = trace.Wrap(err, "deploying channel %v", ch.Name)
				return deployErr
			}
			handlers[ch.Name] = chHandler
		}
		return nil
	})
	if deployErr != nil {
		return nil, deployErr
	}

	return &kubePipelineController{namespace: namespace, order: g.Nodes(), handlers: handlers}, nil
}

func (d *KubeDriver) deployNode(
	ctx context.Context,
	namespace, name, image string,
	cmd []string,
	replicas uint32,
	storage dag.Storage,
	isChannel bool,
	upNodes, downNodes []string,
) (*kubeHandler, error) {
	merged := mergeStorage(d.options.Storage, storage)

	claimName := name + "-claim"
	claimJSON, err := render(claimTpl, claimRenderParams{
		Name: claimName, ClassName: merged.ClassName, Capacity: merged.Capacity, AccessMode: string(merged.AccessMode),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var claim corev1.PersistentVolumeClaim
	if err := json.Unmarshal(claimJSON, &claim); err != nil {
		return nil, trace.Wrap(err, "parsing rendered claim for %v", name)
	}
	if _, err := d.client.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, &claim, metav1.CreateOptions{}); err != nil {
		return nil, trace.Wrap(err, "creating claim for %v", name)
	}

	statefulSetName := name + "-statefulset"
	serviceName := name + "-service"
	ssJSON, err := render(statefulSetTpl, nodeRenderParams{
		Name: name, Namespace: namespace, Image: image, Cmd: cmd, Replicas: replicas,
		ClassName: merged.ClassName, Capacity: merged.Capacity, AccessMode: string(merged.AccessMode),
		DBURL: d.options.DBURL + "/" + namespace, LogLevel: d.options.LogLevel, IPCSocketPath: d.options.IPCSocketPath,
		StatefulSetName: statefulSetName, ServiceName: serviceName, ClaimName: claimName, IsChannel: isChannel,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var ss appsv1.StatefulSet
	if err := json.Unmarshal(ssJSON, &ss); err != nil {
		return nil, trace.Wrap(err, "parsing rendered statefulset for %v", name)
	}
	if _, err := d.client.AppsV1().StatefulSets(namespace).Create(ctx, &ss, metav1.CreateOptions{}); err != nil {
		return nil, trace.Wrap(err, "creating statefulset for %v", name)
	}

	svcJSON, err := render(serviceTpl, serviceRenderParams{Name: name, Namespace: namespace, ServiceName: serviceName})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var svc corev1.Service
	if err := json.Unmarshal(svcJSON, &svc); err != nil {
		return nil, trace.Wrap(err, "parsing rendered service for %v", name)
	}
	if _, err := d.client.CoreV1().Services(namespace).Create(ctx, &svc, metav1.CreateOptions{}); err != nil {
		return nil, trace.Wrap(err, "creating service for %v", name)
	}

	nodeType := store.NodeTypeCompute
	if isChannel {
		nodeType = store.NodeTypeChannel
	}
	outgoing := make([]string, 0, len(downNodes))
	for _, n := range downNodes {
		outgoing = append(outgoing, fmt.Sprintf("%v-service.%v.svc.cluster.local:80", n, namespace))
	}

	return &kubeHandler{
		client:          d.client,
		namespace:       namespace,
		nodeName:        name,
		nodeType:        nodeType,
		statefulSetName: statefulSetName,
		claimName:       claimName,
		serviceName:     serviceName,
		replicas:        int32(replicas),
		upNodes:         upNodes,
		outgoingStreams: outgoing,
	}, nil
}

// Attach re-opens a PipelineController over a namespace an earlier Deploy
// already provisioned (e.g. after a job manager restart).
func (d *KubeDriver) Attach(ctx context.Context, namespace string, g *dag.Dag) (PipelineController, error) {
	handlers := make(map[string]*kubeHandler, g.Len())
	var attachErr error
	_ = g.Iter(func(cu *dag.ComputeUnit) error {
		h, err := d.attachNode(ctx, namespace, cu.Name, store.NodeTypeCompute)
		if err != nil {
			attachErr = trace.Wrap(err, "attaching node %v", cu.Name)
			return attachErr
		}
		handlers[cu.Name] = h
		if cu.Channel != nil {
			chHandler, err := d.attachNode(ctx, namespace, cu.Channel.Name, store.NodeTypeChannel)
			if err != nil {
				attachErr = trace.Wrap(err, "attaching channel %v", cu.Channel.Name)
				return attachErr
			}
			handlers[cu.Channel.Name] = chHandler
		}
		return nil
	})
	if attachErr != nil {
		return nil, attachErr
	}
	return &kubePipelineController{namespace: namespace, order: g.Nodes(), handlers: handlers}, nil
}

func (d *KubeDriver) attachNode(ctx context.Context, namespace, name string, nodeType store.NodeType) (*kubeHandler, error) {
	statefulSetName := name + "-statefulset"
	claimName := name + "-claim"
	serviceName := name + "-service"

	ss, err := d.client.AppsV1().StatefulSets(namespace).Get(ctx, statefulSetName, metav1.GetOptions{})
	if err != nil {
		return nil, trace.Wrap(err, "statefulset %v", statefulSetName)
	}
	if _, err := d.client.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, claimName, metav1.GetOptions{}); err != nil {
		return nil, trace.Wrap(err, "claim %v", claimName)
	}
	if _, err := d.client.CoreV1().Services(namespace).Get(ctx, serviceName, metav1.GetOptions{}); err != nil {
		return nil, trace.Wrap(err, "service %v", serviceName)
	}

	var replicas int32 = 1
	if ss.Spec.Replicas != nil && *ss.Spec.Replicas > 0 {
		replicas = *ss.Spec.Replicas
	}

	return &kubeHandler{
		client:          d.client,
		namespace:       namespace,
		nodeName:        name,
		nodeType:        nodeType,
		statefulSetName: statefulSetName,
		claimName:       claimName,
		serviceName:     serviceName,
		replicas:        replicas,
	}, nil
}

// Clean deletes the job's namespace, tearing down every resource beneath it.
func (d *KubeDriver) Clean(ctx context.Context, namespace string) error {
	err := d.client.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return trace.Wrap(err, "deleting namespace %v", namespace)
	}
	return nil
}
