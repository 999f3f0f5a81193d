// Command ljrserver is the process entry point: parse flags, load config,
// optionally re-exec under the daemon supervisor, then bind and start every
// configured HTTP server. Grounded on ljrServer's Application
// (application.h/.cpp) and its main() drivers (examples/echo_server.cpp,
// examples/ab_http_server.cpp), with cobra replacing the original's
// hand-rolled EnvMgr argv parser.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/lijianran/ljrserver/fiber"
	"github.com/lijianran/ljrserver/httpserver"
	"github.com/lijianran/ljrserver/internal/config"
	"github.com/lijianran/ljrserver/internal/daemon"
	"github.com/lijianran/ljrserver/internal/logging"
	"github.com/lijianran/ljrserver/internal/metrics"
	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/reactor"
)

// httpServerConf mirrors HttpServerConf: one configured listener set.
type httpServerConf struct {
	Name             string   `yaml:"name"`
	Address          []string `yaml:"address"`
	Threads          int      `yaml:"threads"`
	AcceptRatePerSec int      `yaml:"accept_rate_per_sec"`
	ReadTimeoutMS    int      `yaml:"read_timeout_ms"`
}

var (
	confPath    string
	daemonize   bool
	logLevel    string
	logFormat   string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "ljrserver",
		Short: "coroutine-based HTTP server",
		RunE:  runRoot,
	}
	root.Flags().StringVarP(&confPath, "conf", "c", "conf/ljrserver.yaml", "configuration file path")
	root.Flags().BoolVarP(&daemonize, "daemon", "d", false, "run as a restart-on-crash daemon")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.Flags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config vars for the ambient keys listed in the external interfaces table.
// These hold the config-file-or-built-in-default value; an explicitly
// passed flag takes precedence over both, resolved in runRoot.
var (
	logLevelVar    = config.LookupOrDefine(config.Default(), "log.level", "info", "minimum log level")
	logFormatVar   = config.LookupOrDefine(config.Default(), "log.format", "console", "log format: console or json")
	metricsAddrVar = config.LookupOrDefine(config.Default(), "metrics.listen", "", "address to serve Prometheus metrics on")
	acceptRateVar  = config.LookupOrDefine(config.Default(), "tcp.accept.rate_per_sec", 0, "global default accept rate limit")
	readTimeoutVar = config.LookupOrDefine(config.Default(), "tcp_server.read_timeout", 120000, "default recv timeout in milliseconds applied to accepted connections")
	workPathVar    = config.LookupOrDefine(config.Default(), "server.work_path", "/root/ljrServer", "server work path, holding the pid file")
	pidFileVar     = config.LookupOrDefine(config.Default(), "server.pid_file", "ljrserver.pid", "pid file name, relative to server.work_path")
	httpServersVar = config.LookupOrDefine(config.Default(), "http_servers", []httpServerConf{}, "http servers config")
)

// resolvedMetricsAddr is set in runRoot once flags and config have both been
// read, since config.Var has no setter for a one-off override.
var resolvedMetricsAddr string

func runRoot(cmd *cobra.Command, args []string) error {
	if confPath != "" {
		if err := config.Default().LoadFile(confPath); err != nil {
			// logging isn't configured yet; fall back to the default logger.
			logging.Named("main").Err().Err(err).Str("path", confPath).
				Log("failed to load config, continuing with defaults")
		}
	}

	effectiveLogLevel := logLevelVar.Value()
	if cmd.Flags().Changed("log-level") {
		effectiveLogLevel = logLevel
	}
	effectiveLogFormat := logFormatVar.Value()
	if cmd.Flags().Changed("log-format") {
		effectiveLogFormat = logFormat
	}
	resolvedMetricsAddr = metricsAddrVar.Value()
	if cmd.Flags().Changed("metrics-addr") {
		resolvedMetricsAddr = metricsAddr
	}
	logging.Configure(effectiveLogLevel, effectiveLogFormat)

	code := daemon.Run(os.Args[1:], runMain, daemon.Options{Daemonize: daemonize})
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

var log = logging.Named("main")

// runMain is the process's real body, invoked either directly or from under
// the daemon supervisor's re-exec'd child, matching Application::main.
func runMain(args []string) int {
	pidPath := filepath.Join(workPathVar.Value(), pidFileVar.Value())
	if running, pid := pidfileRunning(pidPath); running {
		log.Err().Log(fmt.Sprintf("server is already running: pid=%d pidfile=%s", pid, pidPath))
		return 1
	}
	if err := writePidfile(pidPath); err != nil {
		log.Err().Err(err).Str("path", pidPath).Log("failed to write pid file")
		return 1
	}

	if resolvedMetricsAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(resolvedMetricsAddr); err != nil {
				log.Err().Err(err).Log("metrics listener exited")
			}
		}()
	}
	metrics.StartFiberGaugeUpdater(time.Second, fiber.TotalFibers)

	servers, err := startHTTPServers(httpServersVar.Value())
	if err != nil {
		log.Err().Err(err).Log("failed to start configured servers")
		return 1
	}
	if len(servers) == 0 {
		log.Warning().Log("no http servers configured; nothing to do")
		return 0
	}

	select {}
}

// pidfileRunning reports whether path names a pid file whose pid is a live
// process, matching FSUtil::IsRunningPidfile's stale-lock detection:
// sending signal 0 doesn't affect the target but fails with ESRCH if it's
// gone.
func pidfileRunning(path string) (bool, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}
	if err := unix.Kill(pid, 0); err != nil {
		return false, 0
	}
	return true, pid
}

// writePidfile creates server.work_path if needed and records this
// process's pid at server.work_path/server.pid_file, matching
// Application::main's pidfile block.
func writePidfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create work path: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// startHTTPServers binds and starts one httpserver.Server per configured
// entry, matching Application::run_fiber's loop over http_servers_conf.
func startHTTPServers(confs []httpServerConf) ([]*httpserver.Server, error) {
	var servers []*httpserver.Server
	for _, conf := range confs {
		threads := conf.Threads
		if threads <= 0 {
			threads = 2
		}
		r, err := reactor.New(threads, false, conf.Name)
		if err != nil {
			return servers, fmt.Errorf("ljrserver: start reactor for %q: %w", conf.Name, err)
		}
		r.Start()

		srv := httpserver.New(conf.Name, r, nil)
		rate := conf.AcceptRatePerSec
		if rate == 0 {
			rate = acceptRateVar.Value()
		}
		srv.SetAcceptRatePerSec(rate)

		readTimeoutMS := conf.ReadTimeoutMS
		if readTimeoutMS == 0 {
			readTimeoutMS = readTimeoutVar.Value()
		}
		srv.SetRecvTimeout(time.Duration(readTimeoutMS) * time.Millisecond)

		var addrs []netaddr.Address
		for _, a := range conf.Address {
			addr, err := netaddr.Parse(a)
			if err != nil {
				log.Err().Err(err).Str("address", a).Log("invalid address, skipping")
				continue
			}
			addrs = append(addrs, addr)
		}

		fails, err := srv.BindAll(addrs)
		if err != nil {
			for _, a := range fails {
				log.Err().Str("address", a.String()).Log("bind failed")
			}
			return servers, fmt.Errorf("ljrserver: bind %q: %w", conf.Name, err)
		}

		srv.Start()
		log.Info().Str("name", conf.Name).Log("http server started")
		servers = append(servers, srv)
	}
	return servers, nil
}
