package resources

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/version"
	"git.home.luguber.info/inful/bootstrapd/internal/versioning"
)

// ManifestFile describes the payloads of a bundle directory.
const ManifestFile = "manifest.yaml"

// serverArchiveCandidates are probed in order when the manifest names no archive.
var serverArchiveCandidates = []string{"server.tar.zst", "server.tar.gz", "server.zip"}

// Manifest is the parsed bundle manifest.
//
//	server:   {version: 0.2.0, archive: server.tar.zst}
//	frontend: {version: 0.2.0, dir: frontend}
//	cli:      {version: 0.1.0, dir: cli}
type Manifest struct {
	Server   ManifestEntry  `yaml:"server"`
	Frontend ManifestEntry  `yaml:"frontend"`
	Cli      *ManifestEntry `yaml:"cli,omitempty"`
}

// ManifestEntry locates one payload relative to the bundle directory.
type ManifestEntry struct {
	Version string `yaml:"version"`
	Archive string `yaml:"archive,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// Bundle is a resolved bundle: absolute payload locations and parsed targets.
type Bundle struct {
	Dir            string
	ServerArchive  string
	FrontendDir    string
	CliDir         string // empty when the bundle ships no cli payload
	ServerTarget   versioning.Triple
	FrontendTarget versioning.Triple
	CliTarget      versioning.Triple
}

// HasCli reports whether the bundle ships the optional cli tool.
func (b Bundle) HasCli() bool { return b.CliDir != "" }

// Target returns the target version for kind.
func (b Bundle) Target(kind Kind) versioning.Triple {
	switch kind {
	case KindServer:
		return b.ServerTarget
	case KindFrontend:
		return b.FrontendTarget
	default:
		return b.CliTarget
	}
}

// LoadBundle reads dir/manifest.yaml, falling back to conventional payload
// names and the compiled-in target versions for anything it leaves out.
func LoadBundle(dir string) (Bundle, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Bundle{}, ferrors.WrapError(err, ferrors.CategoryConfig, "malformed bundle manifest").
				WithContext("path", filepath.Join(dir, ManifestFile)).
				Build()
		}
	case !os.IsNotExist(err):
		return Bundle{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read bundle manifest").
			WithContext("path", filepath.Join(dir, ManifestFile)).
			Build()
	}

	b := Bundle{Dir: dir}
	if b.ServerTarget, err = parseTarget(m.Server.Version, version.ServerTarget, KindServer); err != nil {
		return Bundle{}, err
	}
	if b.FrontendTarget, err = parseTarget(m.Frontend.Version, version.FrontendTarget, KindFrontend); err != nil {
		return Bundle{}, err
	}

	if m.Server.Archive != "" {
		b.ServerArchive = filepath.Join(dir, m.Server.Archive)
	} else {
		for _, name := range serverArchiveCandidates {
			if p := filepath.Join(dir, name); fileExists(p) {
				b.ServerArchive = p
				break
			}
		}
	}
	if b.ServerArchive == "" {
		return Bundle{}, ferrors.ResourceError("bundle has no server archive").
			WithContext("path", dir).
			Build()
	}

	b.FrontendDir = filepath.Join(dir, orDefault(m.Frontend.Dir, string(KindFrontend)))

	cliDir := filepath.Join(dir, string(KindCli))
	cliVersion := ""
	if m.Cli != nil {
		cliDir = filepath.Join(dir, orDefault(m.Cli.Dir, string(KindCli)))
		cliVersion = m.Cli.Version
	}
	if dirExists(cliDir) {
		b.CliDir = cliDir
		if b.CliTarget, err = parseTarget(cliVersion, version.CliTarget, KindCli); err != nil {
			return Bundle{}, err
		}
	}
	return b, nil
}

func parseTarget(declared, fallback string, kind Kind) (versioning.Triple, error) {
	raw := orDefault(declared, fallback)
	v, err := versioning.Parse(raw)
	if err != nil {
		return versioning.Triple{}, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid bundle target version").
			WithContext("resource", string(kind)).
			Build()
	}
	return v, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func dirExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
