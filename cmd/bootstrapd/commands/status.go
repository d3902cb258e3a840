package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/resources"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
)

// StatusCmd implements the 'status' command. It never starts the sidecar.
type StatusCmd struct {
	JSON bool `name:"json" help:"Print the report as JSON"`
}

// StatusReport summarizes a channel on disk.
type StatusReport struct {
	Channel           string        `json:"channel"`
	ChannelDir        string        `json:"channel_dir"`
	Initialized       bool          `json:"initialized"`
	AppDataVersion    string        `json:"appdata_version,omitempty"`
	// PendingMigrations run on the next start; status itself never migrates.
	PendingMigrations []string      `json:"pending_migrations,omitempty"`
	Password          bool          `json:"password"`
	TouchID           bool          `json:"touch_id"`
	Fastboot          bool          `json:"fastboot"`
	Databases         []string      `json:"databases,omitempty"`
	MainResources     string        `json:"main_resources"`
	CliResources      string        `json:"cli_resources"`
	Sidecar           SidecarReport `json:"sidecar"`
}

// SidecarReport describes the status record of the channel.
type SidecarReport struct {
	// State is one of external, ready, failed, absent or unreadable.
	State  string   `json:"state"`
	PID    int      `json:"pid,omitempty"`
	URL    string   `json:"url,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	report, err := CollectStatus(context.Background(), cfg, g.Deps)
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printStatus(g.Stdout, report)
}

// CollectStatus reads the channel documents, version lock and status record.
func CollectStatus(ctx context.Context, cfg *config.Config, deps Deps) (StatusReport, error) {
	dir := cfg.ChannelDir()
	report := StatusReport{Channel: cfg.Channel, ChannelDir: dir}

	appData := state.NewAppDataStore(filepath.Join(dir, state.AppDataFile))
	if appData.Exists() {
		data, err := appData.Peek()
		if err != nil {
			return report, err
		}
		pending, err := state.PendingAppDataMigrations(data.Version)
		if err != nil {
			return report, err
		}
		report.Initialized = true
		report.AppDataVersion = data.Version
		report.PendingMigrations = pending
		report.Password = data.HasPassword()
		report.TouchID = data.LoginOption.TouchID
		report.Fastboot = data.LoginOption.Fastboot
		for _, db := range data.Databases {
			report.Databases = append(report.Databases, db.Name+"="+db.Path)
		}
	}

	syncer, err := resources.New(cfg, deps.Installer, metrics.NoopRecorder{})
	if err != nil {
		return report, err
	}
	if err := syncer.Load(ctx); err != nil {
		return report, err
	}
	report.MainResources = syncer.MainStatus().Get().String()
	report.CliResources = syncer.CliStatus().Get().String()

	report.Sidecar = sidecarStatus(cfg)
	return report, nil
}

func sidecarStatus(cfg *config.Config) SidecarReport {
	if cfg.Sidecar.ExternalURL != "" {
		return SidecarReport{State: "external", URL: cfg.Sidecar.ExternalURL}
	}
	rec, err := sidecarapi.ReadStatusRecord(sidecarapi.StatusRecordPath(cfg.DataDir, cfg.Channel))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return SidecarReport{State: "absent"}
	case err != nil:
		return SidecarReport{State: "unreadable", Errors: []string{err.Error()}}
	case rec.Failed():
		return SidecarReport{State: "failed", Errors: rec.Errors}
	case rec.Ready():
		return SidecarReport{State: "ready", PID: rec.PID, URL: rec.URL()}
	default:
		return SidecarReport{State: "unreadable", PID: rec.PID}
	}
}

func printStatus(w io.Writer, r StatusReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "channel:\t%s\n", r.Channel)
	fmt.Fprintf(tw, "directory:\t%s\n", r.ChannelDir)
	if r.Initialized {
		if len(r.PendingMigrations) > 0 {
			fmt.Fprintf(tw, "appdata:\tversion %s (pending migrations: %s)\n", orDash(r.AppDataVersion), strings.Join(r.PendingMigrations, ", "))
		} else {
			fmt.Fprintf(tw, "appdata:\tversion %s\n", r.AppDataVersion)
		}
		fmt.Fprintf(tw, "login:\tpassword=%t touch_id=%t fastboot=%t\n", r.Password, r.TouchID, r.Fastboot)
		fmt.Fprintf(tw, "databases:\t%s\n", strings.Join(r.Databases, ", "))
	} else {
		fmt.Fprintf(tw, "appdata:\tnot initialized\n")
	}
	fmt.Fprintf(tw, "resources:\tmain=%s cli=%s\n", r.MainResources, r.CliResources)

	sc := r.Sidecar.State
	switch {
	case r.Sidecar.URL != "" && r.Sidecar.PID > 0:
		sc = fmt.Sprintf("%s pid=%d url=%s", sc, r.Sidecar.PID, r.Sidecar.URL)
	case r.Sidecar.URL != "":
		sc = fmt.Sprintf("%s url=%s", sc, r.Sidecar.URL)
	case len(r.Sidecar.Errors) > 0:
		sc = fmt.Sprintf("%s: %s", sc, strings.Join(r.Sidecar.Errors, "; "))
	}
	fmt.Fprintf(tw, "sidecar:\t%s\n", sc)
	return tw.Flush()
}
