package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"time"

	"github.com/ppiankov/drivespectre/internal/k8s"
	"github.com/spf13/cobra"
)

type deployOptions struct {
	kubeconfig  string
	namespace   string
	reportDir   string
	port        int
	openBrowser bool
	ingressHost string
	includeAll  bool
	waitTimeout time.Duration
}

// NewDeployCmd creates the deploy command
func NewDeployCmd() *cobra.Command {
	opts := deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy [report-directory]",
		Short: "Deploy report to Kubernetes",
		Long: `Deploy a DriveSpectre report to a Kubernetes cluster.

This command will:
  1. Create namespace (if it doesn't exist)
  2. Create ConfigMap from report files
  3. Deploy nginx pod to serve the report
  4. Create Service
  5. Optionally create Ingress for external access
  6. Otherwise set up port-forwarding`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.reportDir = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runDeploy(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: ~/.kube/config)")
	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "default", "Kubernetes namespace")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 8080, "Local port for port-forward")
	cmd.Flags().BoolVar(&opts.openBrowser, "open", true, "Automatically open browser")
	cmd.Flags().StringVar(&opts.ingressHost, "ingress-host", "", "Host for Ingress (e.g., afr.example.com)")
	cmd.Flags().StringVar(&opts.reportDir, "report", "./report", "Report directory to deploy")
	cmd.Flags().BoolVar(&opts.includeAll, "include-daily", false, "Include the daily CSV series in the ConfigMap")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 2*time.Minute, "How long to wait for the deployment to become ready")

	return cmd
}

// runDeploy executes the Kubernetes deployment
func runDeploy(ctx context.Context, opts deployOptions, out io.Writer) error {
	if err := checkReportDir(opts.reportDir); err != nil {
		return err
	}

	fmt.Fprintln(out, "🚀 Connecting to Kubernetes...")
	clientset, _, err := k8s.NewClientset(opts.kubeconfig)
	if err != nil {
		return err
	}

	exclude := k8s.DefaultExclude
	if opts.includeAll {
		exclude = nil
	}
	publisher := k8s.NewPublisher(clientset, k8s.Options{
		Namespace:   opts.namespace,
		IngressHost: opts.ingressHost,
		Exclude:     exclude,
	})

	if err := publishReport(ctx, publisher, opts, out); err != nil {
		return err
	}

	fmt.Fprintln(out, "⏳ Waiting for deployment to be ready...")
	ready, err := publisher.WaitReady(ctx, opts.waitTimeout, 2*time.Second)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   ✓ Deployment is ready (%d replicas)\n", ready)

	if opts.ingressHost != "" {
		url := "http://" + opts.ingressHost
		fmt.Fprintf(out, "\n✅ Report deployed: %s\n", url)
		if opts.openBrowser {
			_ = openURL(url)
		}
		return nil
	}

	url := fmt.Sprintf("http://localhost:%d", opts.port)
	fmt.Fprintf(out, "\n✅ Report deployed. Forwarding %s (Ctrl+C to stop)\n", url)
	if opts.openBrowser {
		go func() {
			time.Sleep(2 * time.Second)
			_ = openURL(url)
		}()
	}
	return portForward(ctx, opts.namespace, publisher.Name(), opts.port, out)
}

// publishReport creates the namespace, ConfigMap, Deployment, Service and optional Ingress.
func publishReport(ctx context.Context, publisher *k8s.Publisher, opts deployOptions, out io.Writer) error {
	created, err := publisher.EnsureNamespace(ctx)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "📦 Created namespace '%s'\n", opts.namespace)
	} else {
		fmt.Fprintf(out, "📦 Using namespace '%s'\n", opts.namespace)
	}

	fmt.Fprintln(out, "📤 Uploading report files...")
	files, err := publisher.ApplyConfigMap(ctx, opts.reportDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   ✓ ConfigMap holds %d files\n", len(files))

	fmt.Fprintln(out, "🚢 Deploying nginx...")
	if err := publisher.ApplyDeployment(ctx); err != nil {
		return err
	}
	if err := publisher.ApplyService(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "   ✓ Service '%s' created\n", publisher.Name())

	if opts.ingressHost != "" {
		fmt.Fprintln(out, "🌐 Creating ingress...")
		if err := publisher.ApplyIngress(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "   ✓ Created ingress for host '%s'\n", opts.ingressHost)
	}
	return nil
}

// portForward runs kubectl port-forward until ctx is cancelled
func portForward(ctx context.Context, namespace, service string, localPort int, out io.Writer) error {
	cmd := exec.CommandContext(ctx, "kubectl", "port-forward",
		"-n", namespace,
		fmt.Sprintf("svc/%s", service),
		fmt.Sprintf("%d:80", localPort),
	)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("port-forward failed: %w", err)
	}
	return nil
}

// openURL opens a URL in the default browser
func openURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}
