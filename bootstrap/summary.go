package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/version"
)

// ComponentStatus holds the tracked status of a component during bootstrap.
type ComponentStatus struct {
	Name    string
	Status  string
	Healthy bool
}

// PipelineInfo describes a stream pipeline assembled by the application.
type PipelineInfo struct {
	Name      string
	Scheduler string
	Stages    []string
}

// Summary tracks and displays the engine bootstrap.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	components      []ComponentStatus
	pipelines       []PipelineInfo
	out             io.Writer
}

// NewSummary creates a new bootstrap summary tracker writing to stdout.
func NewSummary(serviceName, ver string) *Summary {
	return &Summary{
		serviceName: serviceName,
		version:     ver,
		components:  make([]ComponentStatus, 0),
		pipelines:   make([]PipelineInfo, 0),
		out:         os.Stdout,
	}
}

// SetOutput redirects the summary.
func (s *Summary) SetOutput(w io.Writer) {
	s.out = w
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackComponent adds a component's bootstrap status to the summary.
func (s *Summary) TrackComponent(name, status string, healthy bool) {
	s.components = append(s.components, ComponentStatus{
		Name:    name,
		Status:  status,
		Healthy: healthy,
	})
}

// TrackPipeline records a pipeline and the scheduler it runs on.
func (s *Summary) TrackPipeline(name, schedulerName string, stages ...string) {
	s.pipelines = append(s.pipelines, PipelineInfo{
		Name:      name,
		Scheduler: schedulerName,
		Stages:    stages,
	})
}

// DisplaySummary prints the bootstrap summary including scheduler load and
// live health from the registry. Any argument may be nil.
func (s *Summary) DisplaySummary(cfg *config.Config, schedulers *scheduler.Registry, registry *component.Registry) {
	w := s.out
	fmt.Fprintf(w, "\n")
	ver := s.version
	if ver == "" {
		ver = "dev"
	}
	fmt.Fprintf(w, "🚀 %s %s started in %.2fs\n\n", s.serviceName, ver, s.startupDuration.Seconds())

	if cfg != nil {
		engine := version.Get().Engine
		if engine == "" {
			engine = "unknown"
		}
		fmt.Fprintf(w, "⚙️  Engine (flowkit %s)\n", engine)
		fmt.Fprintf(w, "   ├── prefetch: %d\n", cfg.Stream.Prefetch)
		fmt.Fprintf(w, "   ├── assembly tracing: %s\n", onOff(cfg.Stream.AssemblyTracing))
		fmt.Fprintf(w, "   ├── retry: %d attempts, %s..%s\n", cfg.Retry.MaxRetries, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff)
		telemetry := "disabled"
		if cfg.Observability.Enabled() {
			telemetry = fmt.Sprintf("tracing %s, metrics %s → %s",
				onOff(cfg.Observability.Tracing), onOff(cfg.Observability.Metrics), cfg.Observability.Endpoint)
		}
		fmt.Fprintf(w, "   └── telemetry: %s\n\n", telemetry)
	}

	if schedulers != nil {
		if h := schedulers.Health(context.Background()); h.Message != "" {
			fields := strings.Fields(h.Message)
			fmt.Fprintf(w, "🧵 Schedulers (pending tasks)\n")
			for i, f := range fields {
				name, pending, _ := strings.Cut(f, "=")
				fmt.Fprintf(w, "   %s %s %s: %s\n", treePrefix(i, len(fields)), healthStatusIcon(h.Status), name, pending)
			}
			fmt.Fprintf(w, "\n")
		}
	}

	if len(s.components) > 0 {
		fmt.Fprintf(w, "📦 Components\n")
		healthy := 0
		for i, c := range s.components {
			fmt.Fprintf(w, "   %s %s %s (%s)\n", treePrefix(i, len(s.components)), statusIcon(c.Status, c.Healthy), c.Name, c.Status)
			if c.Healthy {
				healthy++
			}
		}
		fmt.Fprintf(w, "\n")
		if total := len(s.components); healthy == total {
			fmt.Fprintf(w, "✅ All components healthy (%d/%d)\n", healthy, total)
		} else {
			fmt.Fprintf(w, "⚠️  Some components have issues (%d/%d healthy)\n", healthy, total)
		}
	}

	if len(s.pipelines) > 0 {
		fmt.Fprintf(w, "\n🔀 Pipelines\n")
		for i, p := range s.pipelines {
			fmt.Fprintf(w, "   %s %s on %s: %s\n", treePrefix(i, len(s.pipelines)), p.Name, p.Scheduler, strings.Join(p.Stages, " → "))
		}
	}

	if registry != nil {
		results := registry.HealthAll(context.Background())
		if len(results) > 0 {
			fmt.Fprintf(w, "\n🏥 Health Check\n")
			for i, h := range results {
				msg := ""
				if h.Message != "" {
					msg = ": " + h.Message
				}
				fmt.Fprintf(w, "   %s %s %s (%s)%s\n", treePrefix(i, len(results)), healthStatusIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
			}
		}
	}

	fmt.Fprintf(w, "\n")
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func statusIcon(status string, healthy bool) string {
	if !healthy {
		return "❌"
	}
	switch status {
	case "active", "running", "healthy":
		return "✅"
	case "lazy":
		return "⚡"
	case "inactive", "disabled":
		return "⏸️"
	case "error", "failed":
		return "❌"
	default:
		return "⚠️"
	}
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
