package stats

import (
	"fmt"
	"strings"
)

// Banner describes a session before it starts.
type Banner struct {
	Version     string
	Jar         string
	MainClass   string
	Args        []string
	Profile     bool
	Runs        int
	MetricsAddr string
}

// FormatBanner renders the startup banner.
func FormatBanner(b Banner) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(titleStyle.Render("simprof "+b.Version) + "  ")
	sb.WriteString(sectionStyle.Render("simulator CPU profiling") + "\n\n")

	field(&sb, "Target", b.Jar)
	field(&sb, "Main Class", b.MainClass)
	if len(b.Args) > 0 {
		field(&sb, "Arguments", strings.Join(b.Args, " "))
	}

	profile := "off"
	if b.Profile {
		profile = "hprof cpu=samples (first run)"
	}
	field(&sb, "Profiling", profile)

	if b.Runs > 1 {
		field(&sb, "Runs", fmt.Sprintf("%d", b.Runs))
	}
	if b.MetricsAddr != "" {
		field(&sb, "Metrics", fmt.Sprintf("http://%s/metrics", b.MetricsAddr))
	}

	sb.WriteString("\n")
	return sb.String()
}
