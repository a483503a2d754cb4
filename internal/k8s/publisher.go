package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

// MaxConfigMapBytes is the API server limit on ConfigMap payloads.
const MaxConfigMapBytes = 1 << 20

const (
	defaultName  = "drivespectre-report"
	defaultImage = "nginx:alpine"
	httpPort     = 80
)

// DefaultExclude keeps the large daily series out of the ConfigMap.
var DefaultExclude = []string{"afr_daily*.csv"}

// Options configures the published resources
type Options struct {
	Namespace   string
	Name        string
	Image       string
	IngressHost string
	// Exclude lists file name globs left out of the ConfigMap.
	Exclude []string
}

// Publisher serves a report directory from a cluster: a ConfigMap with the
// files, an nginx Deployment mounting it and a Service in front.
type Publisher struct {
	client kubernetes.Interface
	opts   Options
}

// NewPublisher fills option defaults.
func NewPublisher(client kubernetes.Interface, opts Options) *Publisher {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	if opts.Image == "" {
		opts.Image = defaultImage
	}
	return &Publisher{client: client, opts: opts}
}

// Name returns the base name of the published resources.
func (p *Publisher) Name() string {
	return p.opts.Name
}

func (p *Publisher) configMapName() string {
	return p.opts.Name + "-data"
}

func (p *Publisher) labels() map[string]string {
	return map[string]string{
		"app":                          p.opts.Name,
		"app.kubernetes.io/managed-by": "drivespectre",
	}
}

// EnsureNamespace creates the namespace unless it exists.
func (p *Publisher) EnsureNamespace(ctx context.Context) (created bool, err error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: p.opts.Namespace}}
	_, err = p.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create namespace %s: %w", p.opts.Namespace, err)
	}
	return true, nil
}

// ReadReportFiles loads the top-level files of dir that are not excluded.
func (p *Publisher) ReadReportFiles(dir string) (map[string]string, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	data := make(map[string]string)
	total := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || p.excluded(entry.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		data[entry.Name()] = string(content)
		total += len(entry.Name()) + len(content)
	}

	if len(data) == 0 {
		return nil, 0, fmt.Errorf("no report files found in %s", dir)
	}
	if total > MaxConfigMapBytes {
		return nil, total, fmt.Errorf("report files total %d bytes, above the %d byte ConfigMap limit; exclude large files or upload to object storage instead", total, MaxConfigMapBytes)
	}
	return data, total, nil
}

func (p *Publisher) excluded(name string) bool {
	for _, pattern := range p.opts.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ApplyConfigMap replaces the ConfigMap with the report files and returns the file names.
func (p *Publisher) ApplyConfigMap(ctx context.Context, dir string) ([]string, error) {
	data, total, err := p.ReadReportFiles(dir)
	if err != nil {
		return nil, err
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.configMapName(),
			Namespace: p.opts.Namespace,
			Labels:    p.labels(),
		},
		Data: data,
	}
	if err := p.replace(ctx, "configmap",
		func() error {
			return p.client.CoreV1().ConfigMaps(p.opts.Namespace).Delete(ctx, cm.Name, metav1.DeleteOptions{})
		},
		func() error {
			_, err := p.client.CoreV1().ConfigMaps(p.opts.Namespace).Create(ctx, cm, metav1.CreateOptions{})
			return err
		}); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(data))
	for name := range data {
		files = append(files, name)
	}
	sort.Strings(files)
	slog.Debug("configmap applied", slog.String("name", cm.Name), slog.Int("files", len(files)), slog.Int("bytes", total))
	return files, nil
}

// ApplyDeployment replaces the nginx Deployment.
func (p *Publisher) ApplyDeployment(ctx context.Context) error {
	replicas := int32(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.opts.Name,
			Namespace: p.opts.Namespace,
			Labels:    p.labels(),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": p.opts.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: p.labels()},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "nginx",
							Image: p.opts.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: httpPort, Name: "http"},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "report-data", MountPath: "/usr/share/nginx/html", ReadOnly: true},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceMemory: resource.MustParse("64Mi"),
									corev1.ResourceCPU:    resource.MustParse("100m"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceMemory: resource.MustParse("128Mi"),
									corev1.ResourceCPU:    resource.MustParse("200m"),
								},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "report-data",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: p.configMapName()},
								},
							},
						},
					},
				},
			},
		},
	}

	return p.replace(ctx, "deployment",
		func() error {
			return p.client.AppsV1().Deployments(p.opts.Namespace).Delete(ctx, deployment.Name, metav1.DeleteOptions{})
		},
		func() error {
			_, err := p.client.AppsV1().Deployments(p.opts.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
			return err
		})
}

// ApplyService replaces the ClusterIP Service.
func (p *Publisher) ApplyService(ctx context.Context) error {
	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.opts.Name,
			Namespace: p.opts.Namespace,
			Labels:    p.labels(),
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{
				{
					Port:       httpPort,
					TargetPort: intstr.FromInt32(httpPort),
					Protocol:   corev1.ProtocolTCP,
					Name:       "http",
				},
			},
			Selector: map[string]string{"app": p.opts.Name},
		},
	}

	return p.replace(ctx, "service",
		func() error {
			return p.client.CoreV1().Services(p.opts.Namespace).Delete(ctx, service.Name, metav1.DeleteOptions{})
		},
		func() error {
			_, err := p.client.CoreV1().Services(p.opts.Namespace).Create(ctx, service, metav1.CreateOptions{})
			return err
		})
}

// ApplyIngress replaces the Ingress for opts.IngressHost. It is a no-op without a host.
func (p *Publisher) ApplyIngress(ctx context.Context) error {
	if p.opts.IngressHost == "" {
		return nil
	}

	pathType := networkingv1.PathTypePrefix
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.opts.Name,
			Namespace: p.opts.Namespace,
			Labels:    p.labels(),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: p.opts.IngressHost,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: p.opts.Name,
											Port: networkingv1.ServiceBackendPort{Number: httpPort},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	return p.replace(ctx, "ingress",
		func() error {
			return p.client.NetworkingV1().Ingresses(p.opts.Namespace).Delete(ctx, ingress.Name, metav1.DeleteOptions{})
		},
		func() error {
			_, err := p.client.NetworkingV1().Ingresses(p.opts.Namespace).Create(ctx, ingress, metav1.CreateOptions{})
			return err
		})
}

// replace deletes then creates a resource. A missing resource is not an error.
func (p *Publisher) replace(ctx context.Context, kind string, del, create func() error) error {
	if err := del(); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	if err := create(); err != nil {
		return fmt.Errorf("failed to create %s: %w", kind, err)
	}
	slog.Debug("resource replaced", slog.String("kind", kind), slog.String("namespace", p.opts.Namespace))
	return nil
}

// WaitReady polls the Deployment every interval until a replica is ready.
func (p *Publisher) WaitReady(ctx context.Context, timeout, interval time.Duration) (int32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		deployment, err := p.client.AppsV1().Deployments(p.opts.Namespace).Get(ctx, p.opts.Name, metav1.GetOptions{})
		if err != nil {
			return 0, fmt.Errorf("failed to get deployment: %w", err)
		}
		if deployment.Status.ReadyReplicas > 0 {
			return deployment.Status.ReadyReplicas, nil
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("timeout waiting for deployment %s to be ready", p.opts.Name)
		case <-ticker.C:
		}
	}
}
