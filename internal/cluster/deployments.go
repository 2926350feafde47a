package cluster

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DeploymentInfo is a Deployment as shown to the API.
type DeploymentInfo struct {
	Name              string `json:"name"`
	Namespace         string `json:"namespace"`
	Replicas          int32  `json:"replicas"`
	AvailableReplicas int32  `json:"available_replicas"`
	CPUUsage          string `json:"cpu_usage,omitempty"`
	MemoryUsage       string `json:"memory_usage,omitempty"`
}

// ListDeployments returns the Deployments of a namespace. When a metrics client
// is configured, the usage of each Deployment's pods is summed in.
func (s *Scaler) ListDeployments(ctx context.Context, namespace string) ([]DeploymentInfo, error) {
	var list appsv1.DeploymentList
	if err := s.Client.List(ctx, &list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing deployments in %s: %w", namespace, err)
	}

	usage := s.podUsage(ctx, namespace)

	result := make([]DeploymentInfo, 0, len(list.Items))
	for i := range list.Items {
		d := &list.Items[i]
		info := DeploymentInfo{
			Name:              d.Name,
			Namespace:         d.Namespace,
			Replicas:          replicasOf(d),
			AvailableReplicas: d.Status.AvailableReplicas,
		}
		if len(usage) > 0 {
			cpu, mem := usage.sum(d)
			info.CPUUsage = cpu.String()
			info.MemoryUsage = mem.String()
		}
		result = append(result, info)
	}
	return result, nil
}

type podMetrics struct {
	labels labels.Set
	cpu    resource.Quantity
	memory resource.Quantity
}

type podUsageSet []podMetrics

// podUsage returns per-pod usage, or nil when metrics are unavailable.
func (s *Scaler) podUsage(ctx context.Context, namespace string) podUsageSet {
	if s.MetricsClient == nil {
		return nil
	}
	l := log.FromContext(ctx)

	pmList, err := s.MetricsClient.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		l.V(1).Info("Pod metrics unavailable", "namespace", namespace, "error", err.Error())
		return nil
	}

	var pods corev1.PodList
	if err := s.Client.List(ctx, &pods, client.InNamespace(namespace)); err != nil {
		l.V(1).Info("Failed to list pods for usage", "namespace", namespace, "error", err.Error())
		return nil
	}
	podLabels := make(map[string]labels.Set, len(pods.Items))
	for _, p := range pods.Items {
		podLabels[p.Name] = p.Labels
	}

	var out podUsageSet
	for _, pm := range pmList.Items {
		lbls, ok := podLabels[pm.Name]
		if !ok {
			continue
		}
		m := podMetrics{labels: lbls}
		for _, c := range pm.Containers {
			m.cpu.Add(*c.Usage.Cpu())
			m.memory.Add(*c.Usage.Memory())
		}
		out = append(out, m)
	}
	return out
}

func (u podUsageSet) sum(d *appsv1.Deployment) (cpu, memory resource.Quantity) {
	if d.Spec.Selector == nil {
		return cpu, memory
	}
	selector, err := metav1.LabelSelectorAsSelector(d.Spec.Selector)
	if err != nil || selector.Empty() {
		return cpu, memory
	}
	for _, m := range u {
		if selector.Matches(m.labels) {
			cpu.Add(m.cpu)
			memory.Add(m.memory)
		}
	}
	return cpu, memory
}
