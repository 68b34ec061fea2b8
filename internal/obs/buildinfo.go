package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo identifies the running binary. Version, Commit and BuildDate are set by
// the linker; a missing commit or date falls back to the VCS stamp of the module.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capledger_build_info",
			Help: "Build of the running capledger binary; always 1.",
		},
		[]string{"version", "commit", "build_date", "go_version"},
	)
)

// ResolveBuildInfo fills the Go version and any missing VCS fields.
func ResolveBuildInfo(b BuildInfo) BuildInfo {
	b.GoVersion = runtime.Version()
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Commit == "":
				b.Commit = s.Value
			case s.Key == "vcs.time" && b.BuildDate == "":
				b.BuildDate = s.Value
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

// InitBuildInfo registers capledger_build_info once and publishes the resolved build.
func InitBuildInfo(b BuildInfo) BuildInfo {
	b = ResolveBuildInfo(b)
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(b.Version, b.Commit, b.BuildDate, b.GoVersion).Set(1)
	return b
}
