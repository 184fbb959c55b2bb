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

	"github.com/coursekit/admission/internal/log"
)

type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int
	GRPCPort  int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration

	FailMode           string
	UnidentifiedPolicy string
	TrustedHops        int

	PolicyFile     string
	PolicySSMParam string

	RelayURL     string
	RelayTimeout time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.GRPCPort, "grpc-port", 9090, "gRPC listen TCP port (1..65535, 0 disables)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StoreBackend, "store-backend", "memory", "counter store backend: memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (host:port), used when store-backend=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password, used when store-backend=redis")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number, used when store-backend=redis")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 250*time.Millisecond, "per-check counter store deadline before the fail policy applies")
	fs.StringVar(&c.FailMode, "fail-mode", "open", "behavior when the counter store is unreachable: open|closed")
	fs.StringVar(&c.UnidentifiedPolicy, "unidentified-policy", "allow", "behavior when no caller identity resolves: allow|deny")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted reverse proxies for X-Forwarded-For (0 ignores the header)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "path to a JSON rate-limit policy document")
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "", "SSM parameter holding the JSON rate-limit policy document")
	fs.StringVar(&c.RelayURL, "relay-url", "", "webhook URL the relay endpoint forwards to (empty disables relay)")
	fs.DurationVar(&c.RelayTimeout, "relay-timeout", 5*time.Second, "outbound webhook delivery deadline")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
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
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
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
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid GRPC_PORT %d (must be 0..65535)", c.GRPCPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.GRPCPort != 0 && (c.GRPCPort == c.HTTPPort || c.GRPCPort == c.AdminPort) {
		errs = append(errs, fmt.Errorf("GRPC_PORT %d collides with HTTP or admin port", c.GRPCPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
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

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Counter store
	switch c.StoreBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when STORE_BACKEND=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q (must be memory|redis)", c.StoreBackend))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT must be > 0 (got %v)", c.StoreTimeout))
	}

	// Admission policies
	switch c.FailMode {
	case "open", "closed":
	default:
		errs = append(errs, fmt.Errorf("invalid FAIL_MODE %q (must be open|closed)", c.FailMode))
	}
	switch c.UnidentifiedPolicy {
	case "allow", "deny":
	default:
		errs = append(errs, fmt.Errorf("invalid UNIDENTIFIED_POLICY %q (must be allow|deny)", c.UnidentifiedPolicy))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	// Policy document source: at most one
	if c.PolicyFile != "" && c.PolicySSMParam != "" {
		errs = append(errs, fmt.Errorf("POLICY_FILE and POLICY_SSM_PARAM are mutually exclusive"))
	}

	// Relay
	if c.RelayURL != "" {
		if u, err := url.Parse(c.RelayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("RELAY_URL must be a URL (got %q)", c.RelayURL))
		}
	}
	if c.RelayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_TIMEOUT must be > 0 (got %v)", c.RelayTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
