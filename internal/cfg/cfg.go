package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

type App struct {
	ConfigFile string

	HTTPPort  int
	AdminPort int

	PublicDir string
	IndexFile string

	RateLimitMax         int
	RateLimitWindow      time.Duration
	RateLimitAlgorithm   string
	RateLimitMaxVisitors int
	TrustedHops          int

	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	DrainPeriod time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML file of flag-name: value pairs (cli and env take precedence)")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.PublicDir, "public-dir", "", "directory of static assets to serve (empty serves the embedded default)")
	fs.StringVar(&c.IndexFile, "index-file", "index.html", "document served for GET / (relative to public-dir)")
	fs.IntVar(&c.RateLimitMax, "ratelimit-max", 100, "max requests per client per window")
	fs.DurationVar(&c.RateLimitWindow, "ratelimit-window", 15*time.Minute, "rate limit window length")
	fs.StringVar(&c.RateLimitAlgorithm, "ratelimit-algorithm", string(ratelimit.FixedWindow), "fixed-window|token-bucket")
	fs.IntVar(&c.RateLimitMaxVisitors, "ratelimit-max-visitors", 0, "cap on tracked clients, new clients are rejected at the cap (0 = unlimited). Bounds memory at the cost of denying unseen clients")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server for X-Forwarded-For (0..8)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 10*time.Second, "time to fail readiness before shutting listeners down")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > config file > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		// validate on the Value directly, fs.Set would mark the flag as set
		// even on failure and hide a config file value behind a bad env var
		prev := f.Value.String()
		if err := f.Value.Set(envVal); err != nil {
			_ = f.Value.Set(prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
			return
		}
		_ = fs.Set(f.Name, envVal)
	})
}

// ApplyFile reads a YAML mapping of flag names to scalar values and sets
// every flag that was not already set on the CLI or from the environment.
// Must run after FillFromEnv, which marks env-sourced flags as set.
func ApplyFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read config file %s", path)
	}
	return apply(fs, data)
}

func apply(fs *flag.FlagSet, data []byte) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return xerrors.Wrap(err, "parse config file")
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	for name, node := range doc {
		if name == "config" {
			errs = append(errs, fmt.Errorf("config: nested config files are not supported"))
			continue
		}
		if fs.Lookup(name) == nil {
			errs = append(errs, fmt.Errorf("%s: unknown setting", name))
			continue
		}
		if node.Kind != yaml.ScalarNode {
			errs = append(errs, fmt.Errorf("%s: line %d: value must be a scalar", name, node.Line))
			continue
		}
		if set[name] {
			continue
		}
		if err := fs.Set(name, node.Value); err != nil {
			errs = append(errs, fmt.Errorf("%s: line %d: %w", name, node.Line, err))
		}
	}
	if len(errs) > 0 {
		return xerrors.WithStack(errors.Join(errs...))
	}
	return nil
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Assets
	if c.PublicDir != "" {
		if info, err := os.Stat(c.PublicDir); err != nil {
			errs = append(errs, fmt.Errorf("PUBLIC_DIR %q: %w", c.PublicDir, err))
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("PUBLIC_DIR %q is not a directory", c.PublicDir))
		}
	}
	if c.IndexFile == "" || strings.Contains(c.IndexFile, "..") || strings.HasPrefix(c.IndexFile, "/") {
		errs = append(errs, fmt.Errorf("invalid INDEX_FILE %q (must be a relative path inside public-dir)", c.IndexFile))
	}

	// Rate limiting
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_MAX %d (must be >= 1)", c.RateLimitMax))
	}
	if c.RateLimitWindow < time.Second {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_WINDOW %s (must be >= 1s)", c.RateLimitWindow))
	}
	if _, err := ratelimit.ParseAlgorithm(c.RateLimitAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_ALGORITHM: %w", err))
	}
	if c.RateLimitMaxVisitors < 0 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_MAX_VISITORS %d (must be >= 0)", c.RateLimitMaxVisitors))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.DrainPeriod < 0 || c.DrainPeriod > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid DRAIN_PERIOD %s (must be 0..5m)", c.DrainPeriod))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
