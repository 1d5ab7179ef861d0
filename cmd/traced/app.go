package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/buildwithtrace/trace-agent/internal/auth"
	"github.com/buildwithtrace/trace-agent/internal/config"
	"github.com/buildwithtrace/trace-agent/internal/convert"
	"github.com/buildwithtrace/trace-agent/internal/executor"
	"github.com/buildwithtrace/trace-agent/internal/store"
	"github.com/buildwithtrace/trace-agent/internal/syncer"
)

// app bundles the wired components a command needs. Commands build only
// what they use via the newApp option flags.
type app struct {
	cfg       *config.Config
	auth      *auth.Manager
	store     *store.Store
	converter *convert.Subprocess
	syncer    *syncer.Worker
}

// newApp wires components from the loaded config and restores any
// stored session.
func newApp(cfg *config.Config, needStore bool) (*app, error) {
	a := &app{cfg: cfg}

	creds := auth.NewFileCredentialStore(cfg.Data.Dir)
	a.auth = auth.NewManager(cfg.Backend.APIURL, creds)
	a.auth.OpenBrowser = openBrowser
	a.auth.TryRestoreSession()

	a.converter = convert.NewSubprocess(cfg.Converter.Interpreter, cfg.Converter.Script)
	a.converter.Timeout = cfg.GetConverterTimeout()

	if needStore {
		st, err := store.Open(cfg.Data.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening conversation store: %w", err)
		}
		a.store = st
		a.syncer = syncer.New(cfg.Backend.SyncURL, st, a.auth)
	}
	return a, nil
}

func (a *app) Close() {
	if a.syncer != nil {
		a.syncer.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// freshToken returns the current access token, refreshing first when it
// is about to expire. Returns "" when signed out.
func (a *app) freshToken() string {
	if a.auth.State() != auth.SignedIn {
		return ""
	}
	if a.auth.IsTokenExpiringSoon() && a.auth.RefreshToken() != "" {
		_ = a.auth.Refresh()
	}
	return a.auth.AccessToken()
}

// newExecutor builds a tool executor sandboxed to the file's directory.
func (a *app) newExecutor(appType, tracePath string) *executor.Executor {
	e := executor.New(appType, a.converter)
	if tracePath != "" {
		e.SetAllowedProjectDirs([]string{filepath.Dir(tracePath)})
	}
	return e
}

// resolveDesignFile maps a user-supplied design file to its trace and
// native paths plus the app type. Accepts either representation.
func resolveDesignFile(path string) (tracePath, nativePath, appType string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", "", err
	}
	switch {
	case strings.HasSuffix(abs, ".trace_sch"), strings.HasSuffix(abs, ".trace_pcb"):
		tracePath = abs
		nativePath = convert.NativePathFor(abs)
	case strings.HasSuffix(abs, ".kicad_sch"), strings.HasSuffix(abs, ".kicad_pcb"):
		nativePath = abs
		tracePath = convert.TracePathFor(abs)
	default:
		return "", "", "", fmt.Errorf("unsupported design file: %s", path)
	}
	appType = executor.AppSchematic
	if strings.HasSuffix(tracePath, ".trace_pcb") {
		appType = executor.AppPCB
	}
	return tracePath, nativePath, appType, nil
}

// openBrowser launches the system browser at a URL.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
