package selfprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sizemap/pkg/utils"
)

// Handler serves the net/http/pprof endpoints. Mount it at /debug.
func Handler() http.Handler {
	return middleware.Profiler()
}

// Profiler collects runtime profiles between Start and Stop.
type Profiler struct {
	cfg    Config
	logger utils.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	stamp    string
	cpuFile  *os.File
	server   *http.Server
	listener net.Listener
}

// New creates a Profiler. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger utils.Logger) (*Profiler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Profiler{cfg: *cfg, logger: utils.OrNull(logger), now: time.Now}, nil
}

// Start begins collection.
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("profiler already running")
	}

	if p.cfg.Has(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if p.cfg.Has(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	var err error
	if p.cfg.Mode == ModeHTTP {
		err = p.startHTTP()
	} else {
		err = p.startFile()
	}
	if err != nil {
		resetRates()
		return err
	}
	p.running = true
	return nil
}

func (p *Profiler) startFile() error {
	if err := os.MkdirAll(p.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	p.stamp = p.now().Format("20060102_150405")
	if !p.cfg.Has(ProfileCPU) {
		return nil
	}
	f, err := os.Create(p.path(ProfileCPU))
	if err != nil {
		return fmt.Errorf("failed to create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start cpu profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

func (p *Profiler) startHTTP() error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.Addr, err)
	}
	r := chi.NewRouter()
	r.Mount("/debug", Handler())
	p.listener = ln
	p.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("pprof server stopped: %v", err)
		}
	}()
	p.logger.Info("pprof endpoints at http://%s/debug/pprof/", ln.Addr())
	return nil
}

// Addr returns the listen address in HTTP mode, or "" otherwise.
func (p *Profiler) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop ends collection. In file mode it returns the profile files
// written, CPU first.
func (p *Profiler) Stop(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, nil
	}
	p.running = false
	defer resetRates()

	if p.server != nil {
		err := p.server.Shutdown(ctx)
		p.server, p.listener = nil, nil
		return nil, err
	}

	var files []string
	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, err)
		} else {
			files = append(files, p.cpuFile.Name())
		}
		p.cpuFile = nil
	}
	for _, prof := range p.cfg.Profiles {
		if prof == ProfileCPU {
			continue
		}
		path, err := p.snapshot(prof)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, path)
	}
	return files, errors.Join(errs...)
}

func (p *Profiler) snapshot(prof Profile) (string, error) {
	lookup := pprof.Lookup(string(prof))
	if lookup == nil {
		return "", fmt.Errorf("runtime has no %s profile", prof)
	}
	if prof == ProfileHeap || prof == ProfileAllocs {
		runtime.GC()
	}
	path := p.path(prof)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s profile: %w", prof, err)
	}
	if err := lookup.WriteTo(f, 0); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s profile: %w", prof, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Profiler) path(prof Profile) string {
	return filepath.Join(p.cfg.Dir, fmt.Sprintf("%s_%s.pprof", prof, p.stamp))
}

func resetRates() {
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
}
