package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	"git.home.luguber.info/inful/bootstrapd/internal/eventstore"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarstub"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
)

// channelFixture is an unmanaged channel talking to an in-process sidecar
// through the pass-through strategy.
type channelFixture struct {
	stub *sidecarstub.Server
	cfg  *config.Config
}

func newChannel(t *testing.T) *channelFixture {
	t.Helper()
	stub := sidecarstub.New(sidecarstub.Options{})
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	path := writeConfig(t, fmt.Sprintf(`
channel: test
data_dir: %s
resources:
  managed: false
sidecar:
  external_url: %s
  external_token: %s
journal:
  enabled: true
`, t.TempDir(), srv.URL, stub.Token()))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return &channelFixture{stub: stub, cfg: cfg}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrapd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testGlobal(stdin string) (*Global, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &Global{Stdin: strings.NewReader(stdin), Stdout: out, Stderr: errOut}, out, errOut
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInitThenRunOnce(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, out, _ := testGlobal("")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{NoPassword: true, DatabaseName: "main"}))
	assert.Equal(t, []string{
		"INITIALIZING",
		"INITIALIZING_APPDATA",
		"INITIALIZING_RESOURCE",
		"INITIALIZING_SERVER",
		"INITIALIZING_SERVER_DATABASE",
		"FINISH",
	}, strings.Fields(out.String()))
	assert.FileExists(t, filepath.Join(ch.cfg.ChannelDir(), state.AppDataFile))
	assert.FileExists(t, filepath.Join(ch.cfg.ChannelDir(), state.ConfigurationFile))
	assert.Equal(t, DefaultDBPath(ch.cfg), ch.stub.Stats().DBPath)

	g, out, _ = testGlobal("")
	require.NoError(t, RunChannel(ctx, g, ch.cfg, &RunCmd{Once: true}))
	assert.Equal(t, "channel test loaded\n", out.String())

	sessions, err := LoadHistory(ctx, ch.cfg, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	var initSessions int
	for _, s := range sessions {
		assert.True(t, s.Closed)
		assert.Equal(t, "LOADED", s.State)
		assert.Equal(t, "test", s.Channel)
		if s.InitState == "FINISH" {
			initSessions++
		}
	}
	assert.Equal(t, 1, initSessions)

	entries, err := LoadSession(ctx, ch.cfg, sessions[0].SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, eventstore.TypeSessionStarted, entries[0].Type)
	assert.Equal(t, eventstore.TypeSessionClosed, entries[len(entries)-1].Type)
	var buf bytes.Buffer
	require.NoError(t, printSession(&buf, entries))
	assert.Contains(t, buf.String(), eventstore.TypeStateChanged)

	_, err = LoadSession(ctx, ch.cfg, "no-such-session")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestInitWithPasswordThenLogin(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, _, _ := testGlobal("s3cret\ns3cret\n")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{DatabaseName: "main"}))

	report, err := CollectStatus(ctx, ch.cfg, Deps{})
	require.NoError(t, err)
	assert.True(t, report.Password)

	g, out, errOut := testGlobal("wrong\ns3cret\n")
	require.NoError(t, RunChannel(ctx, g, ch.cfg, &RunCmd{Once: true}))
	assert.Equal(t, "channel test loaded\n", out.String())
	assert.Equal(t, "Wrong password\n", errOut.String())
}

func TestRunGivesUpAfterThreeWrongPasswords(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, _, _ := testGlobal("s3cret\ns3cret\n")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{DatabaseName: "main"}))

	g, _, _ = testGlobal("a\nb\nc\nd\n")
	err := RunChannel(ctx, g, ch.cfg, &RunCmd{Once: true})
	require.ErrorIs(t, err, errLoginFailed)
}

func TestRunWithoutInput(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, _, _ := testGlobal("s3cret\ns3cret\n")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{DatabaseName: "main"}))

	g, _, _ = testGlobal("")
	require.ErrorIs(t, RunChannel(ctx, g, ch.cfg, &RunCmd{Once: true}), errNoInput)
}

func TestRunRequiresInit(t *testing.T) {
	ch := newChannel(t)
	g, _, _ := testGlobal("")

	err := RunChannel(testContext(t), g, ch.cfg, &RunCmd{Once: true})
	require.ErrorIs(t, err, errNotInitialized)
	assert.Equal(t, 12, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestRunTouchIDUnavailable(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, _, _ := testGlobal("s3cret\ns3cret\n")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{TouchID: true, DatabaseName: "main"}))

	g, _, _ = testGlobal("")
	err := RunChannel(ctx, g, ch.cfg, &RunCmd{Once: true, TouchID: true})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAuth) || ferrors.HasCategory(err, ferrors.CategoryState))
}

func TestInitTwiceFails(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	g, _, _ := testGlobal("")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{NoPassword: true, DatabaseName: "main"}))

	err := RunInit(ctx, g, ch.cfg, &InitCmd{NoPassword: true, DatabaseName: "main"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryState))
}

func TestInitPasswordMismatch(t *testing.T) {
	ch := newChannel(t)
	g, _, _ := testGlobal("one\ntwo\n")

	err := RunInit(testContext(t), g, ch.cfg, &InitCmd{DatabaseName: "main"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	assert.NoFileExists(t, filepath.Join(ch.cfg.ChannelDir(), state.AppDataFile))
}

func TestInitEmptyPassword(t *testing.T) {
	ch := newChannel(t)
	g, _, _ := testGlobal("\n\n")

	err := RunInit(testContext(t), g, ch.cfg, &InitCmd{DatabaseName: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--no-password")
}

func TestCollectStatus(t *testing.T) {
	ch := newChannel(t)
	ctx := testContext(t)

	report, err := CollectStatus(ctx, ch.cfg, Deps{})
	require.NoError(t, err)
	assert.False(t, report.Initialized)
	assert.Equal(t, "LATEST", report.MainResources)
	assert.Equal(t, "external", report.Sidecar.State)

	g, _, _ := testGlobal("")
	require.NoError(t, RunInit(ctx, g, ch.cfg, &InitCmd{NoPassword: true, Fastboot: true, DatabaseName: "main"}))

	report, err = CollectStatus(ctx, ch.cfg, Deps{})
	require.NoError(t, err)
	assert.True(t, report.Initialized)
	assert.False(t, report.Password)
	assert.True(t, report.Fastboot)
	assert.Equal(t, []string{"main=" + DefaultDBPath(ch.cfg)}, report.Databases)

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, report))
	assert.Contains(t, buf.String(), "login:")
	assert.Contains(t, buf.String(), "fastboot=true")
	assert.Contains(t, buf.String(), "resources:  main=LATEST cli=LATEST")
}

func TestSidecarStatusFromRecord(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := config.Load(writeConfig(t, fmt.Sprintf(`
channel: test
data_dir: %s
resources:
  managed: false
`, dataDir)))
	require.NoError(t, err)
	recordPath := sidecarapi.StatusRecordPath(dataDir, "test")

	assert.Equal(t, "absent", sidecarStatus(cfg).State)

	require.NoError(t, sidecarapi.WriteStatusRecord(recordPath, sidecarapi.StatusRecord{Errors: []string{"port in use"}}))
	got := sidecarStatus(cfg)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, []string{"port in use"}, got.Errors)

	require.NoError(t, sidecarapi.WriteStatusRecord(recordPath, sidecarapi.StatusRecord{PID: 42, Port: 8123, Token: "t"}))
	got = sidecarStatus(cfg)
	assert.Equal(t, SidecarReport{State: "ready", PID: 42, URL: "http://127.0.0.1:8123"}, got)

	require.NoError(t, os.WriteFile(recordPath, []byte("{"), 0o600))
	assert.Equal(t, "unreadable", sidecarStatus(cfg).State)
}

func TestHistoryWithoutJournal(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, fmt.Sprintf("data_dir: %s\nresources:\n  managed: false\n", t.TempDir())))
	require.NoError(t, err)

	sessions, err := LoadHistory(context.Background(), cfg, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, sessions))
	assert.Equal(t, "no sessions recorded\n", buf.String())
}

func TestResourcesUnmanaged(t *testing.T) {
	ch := newChannel(t)
	g, out, _ := testGlobal("")

	require.NoError(t, RunResources(testContext(t), g, ch.cfg, &ResourcesCmd{}))
	assert.Equal(t, "current: main=LATEST cli=LATEST\nup to date\n", out.String())

	out.Reset()
	require.NoError(t, RunResources(testContext(t), g, ch.cfg, &ResourcesCmd{Check: true}))
	assert.Equal(t, "current: main=LATEST cli=LATEST\nup to date\n", out.String())
}

func TestInitConfigCommand(t *testing.T) {
	root := &CLI{Config: filepath.Join(t.TempDir(), "bootstrapd.yaml")}
	g, out, _ := testGlobal("")

	require.NoError(t, (&InitConfigCmd{}).Run(g, root))
	assert.Contains(t, out.String(), root.Config)
	assert.FileExists(t, root.Config)

	require.Error(t, (&InitConfigCmd{}).Run(g, root))
	require.NoError(t, (&InitConfigCmd{Force: true}).Run(g, root))
}

func TestVersionCommand(t *testing.T) {
	g, out, _ := testGlobal("")
	require.NoError(t, (&VersionCmd{}).Run(g, &CLI{}))
	assert.Contains(t, out.String(), "bootstrapd ")
	assert.Contains(t, out.String(), "resource targets: server=")
}

func TestParseFlags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }), kong.Writers(io.Discard, io.Discard))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"-c", "custom.yaml", "init", "--no-password", "--touch-id", "--db-path", "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "init", kctx.Command())
	assert.Equal(t, "custom.yaml", cli.Config)
	assert.True(t, cli.Init.NoPassword)
	assert.True(t, cli.Init.TouchID)
	assert.Equal(t, "/tmp/x.db", cli.Init.DBPath)
	assert.Equal(t, "main", cli.Init.DatabaseName)

	kctx, err = parser.Parse([]string{"run", "--once", "--timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, "run", kctx.Command())
	assert.True(t, cli.Run.Once)
	assert.Equal(t, 30*time.Second, cli.Run.Timeout)

	_, err = parser.Parse([]string{"bogus"})
	require.Error(t, err)
}

func TestPrompterReadsLines(t *testing.T) {
	p := newPrompter(&Global{Stdin: strings.NewReader("first\r\nlast"), Stderr: io.Discard})

	got, err := p.password("")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = p.password("")
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = p.password("")
	assert.True(t, errors.Is(err, errNoInput))
}

func TestCollectStatusReportsPendingMigrations(t *testing.T) {
	ch := newChannel(t)
	path := filepath.Join(ch.cfg.ChannelDir(), state.AppDataFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	legacy := []byte(`{"loginOption": {"password": null}, "databases": []}`)
	require.NoError(t, os.WriteFile(path, legacy, 0o600))

	report, err := CollectStatus(testContext(t), ch.cfg, Deps{})
	require.NoError(t, err)
	assert.True(t, report.Initialized)
	assert.Equal(t, []string{"0.1.0", "0.2.0", "0.3.0"}, report.PendingMigrations)

	// status never rewrites the document
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, legacy, after)

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, report))
	assert.Contains(t, buf.String(), "version - (pending migrations: 0.1.0, 0.2.0, 0.3.0)")
}
