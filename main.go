package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath   string
	host         string
	port         int
	username     string
	scheme       string
	identityFile string
	knownHosts   string
	passwordEnv  string
	threads      int
	strictCase   bool
	timeout      time.Duration
	report       string
	debug        bool
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "fastq-fetch <md5file> <remotedir> <outdir>",
		Short: "Download FASTQ files from the sequencing core and verify their md5 checksums",
		Long: `Download every *.fastq.gz listed in the core's md5 file (Undetermined files
excluded) from <remotedir> on the server into <outdir>/<chip>/, where <chip> is
the fifth dash-separated field of the file name. Files already present are
verified instead of downloaded again; files failing verification are removed
so the next run fetches them again.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(cmd, args)
			if err != nil {
				return err
			}

			level := new(slog.LevelVar)
			if flags.debug {
				level.Set(slog.LevelDebug)
			}
			log := newLogger(cmd.OutOrStdout(), cmd.ErrOrStderr(), level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log, os.Stdin, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to a TOML config file (default $XDG_CONFIG_HOME/fastq-fetch/config.toml)")
	f.StringVar(&flags.host, "host", defaultHost, "Server host name, or a full URL such as sftp://user@host:22")
	f.IntVar(&flags.port, "port", 0, "Server port (default 22, or 21 for ftp)")
	f.StringVarP(&flags.username, "username", "u", defaultUsername, "User name on the server")
	f.StringVar(&flags.scheme, "scheme", defaultScheme, "Transfer protocol: sftp, scp or ftp")
	f.StringVarP(&flags.identityFile, "identity", "i", "", "Private key file for sftp and scp")
	f.StringVar(&flags.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts when present)")
	f.StringVar(&flags.passwordEnv, "password-env", "", "Environment variable holding the password")
	f.IntVarP(&flags.threads, "threads", "t", 1, "Number of download workers; chip groups are spread across them")
	f.BoolVar(&flags.strictCase, "strict-case", false, "Compare checksums byte for byte instead of ignoring hex case")
	f.DurationVar(&flags.timeout, "timeout", defaultTimeout, "Connection timeout")
	f.StringVar(&flags.report, "report", "", "Write a tab-separated disposition report to this file")
	f.BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")

	return cmd
}

// config loads the config file and lets explicitly set flags win over it.
func (flags *cliFlags) config(cmd *cobra.Command, args []string) (Config, error) {
	path, explicit := flags.configPath, flags.configPath != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("username") {
		cfg.Username = flags.username
	}
	if changed("scheme") {
		cfg.Scheme = flags.scheme
	}
	if changed("identity") {
		cfg.IdentityFile = flags.identityFile
	}
	if changed("known-hosts") {
		cfg.KnownHosts = flags.knownHosts
	}
	if changed("password-env") {
		cfg.PasswordEnv = flags.passwordEnv
	}
	if changed("threads") {
		cfg.Threads = flags.threads
	}
	if changed("strict-case") {
		cfg.StrictChecksumCase = flags.strictCase
	}
	if changed("timeout") {
		cfg.Timeout = duration{flags.timeout}
	}
	if changed("report") {
		cfg.Report = flags.report
	}

	cfg.ManifestPath = args[0]
	cfg.RemoteDir = args[1]
	cfg.OutDir = args[2]
	if err := cfg.resolvePaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// run connects, processes the manifest once and prints a summary.
func run(ctx context.Context, cfg Config, log *slog.Logger, in io.Reader, promptOut io.Writer) error {
	u, err := cfg.URL()
	if err != nil {
		return err
	}
	factory := getConnectorFactory(u)
	if factory == nil {
		return fmt.Errorf("no connector available for scheme: %s", u.Scheme)
	}

	// every local path is absolute by now, see Config.resolvePaths
	local := osfs.New("/")
	creds, err := resolveCredentials(cfg, u, local, os.Getenv, askPassword)
	if err != nil {
		return err
	}
	// Securely clear password when it's no longer needed
	defer creds.Clear()

	verifier, err := newHostKeyVerifier(cfg.KnownHosts, in, promptOut)
	if err != nil {
		return err
	}

	opts := ConnectOptions{
		Creds:           creds,
		HostKeyCallback: verifier.Callback,
		Timeout:         cfg.Timeout.Duration,
		Local:           local,
	}
	job := NewJob(cfg, NewManifest(local, cfg.ManifestPath), factory, u, opts, log)
	summary, err := job.Run(ctx)
	logSummary(log, summary)
	if err != nil {
		return err
	}
	log.Info("All downloads completed.")
	return nil
}

func logSummary(log *slog.Logger, summary *Summary) {
	if summary == nil {
		return
	}
	args := []any{"entries", len(summary.Results)}
	for d := range Disposition(len(dispositionNames)) {
		if n := summary.Counts[d]; n > 0 {
			args = append(args, d.String(), n)
		}
	}
	log.Info("Summary", args...)
}
