package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
	"github.com/raniellyferreira/redis-inmemory-server/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "redis-server",
	Short: "in-memory Redis-compatible server",
	Long: fmt.Sprintf(`redis-server (v%s)

An in-memory Redis-compatible server that runs as a primary or as a replica.
Every flag can also be set through an environment variable named
REDIS_<FLAG> (e.g. REDIS_REPLICAOF="localhost 6379"); .env and .env.local
in the working directory are read first.`, redisserver.Version),
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		info := redisserver.VersionInfo()
		fmt.Printf("redis-server v%s", info["version"])
		if commit := info["commit"]; commit != "" {
			fmt.Printf(" (%s)", commit)
		}
		fmt.Println()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.Flags()
	flags.Int("port", 6379, "TCP port to listen on")
	flags.String("bind", "0.0.0.0", "interface to listen on")
	flags.String("replicaof", "", `primary to replicate from, as "host port" or host:port`)
	flags.String("masteruser", "", "user to authenticate with on the primary")
	flags.String("masterauth", "", "password to authenticate with on the primary")
	flags.Bool("replica-read-only", true, "refuse client writes while running as a replica")
	flags.String("dir", ".", "directory of the snapshot file")
	flags.String("dbfilename", "dump.rdb", "snapshot file name")
	flags.String("requirepass", "", "password clients must authenticate with")
	flags.Duration("timeout", 0, "close client connections idle for this long (0 disables)")
	flags.String("admin-addr", "", "serve /metrics, /healthz and /info on this address")
	flags.String("log-level", "info", "log level (debug, info, error)")
}

// initConfig loads .env files and maps REDIS_* environment variables onto
// the flags
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("redis")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	opts, err := buildOptions(viper.GetViper())
	if err != nil {
		return err
	}

	node, err := redisserver.New(opts...)
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// buildOptions converts the configuration into node options
func buildOptions(v *viper.Viper) ([]redisserver.Option, error) {
	port := v.GetInt("port")
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	opts := []redisserver.Option{
		redisserver.WithAddr(net.JoinHostPort(v.GetString("bind"), strconv.Itoa(port))),
		redisserver.WithDir(v.GetString("dir")),
		redisserver.WithDBFilename(v.GetString("dbfilename")),
		redisserver.WithPassword(v.GetString("requirepass")),
		redisserver.WithReadTimeout(v.GetDuration("timeout")),
		redisserver.WithLogger(redisserver.NewLogger(v.GetString("log-level"))),
	}

	if primary := v.GetString("replicaof"); primary != "" {
		opts = append(opts,
			redisserver.WithReplicaOf(primary),
			redisserver.WithMasterAuth(v.GetString("masteruser"), v.GetString("masterauth")),
			redisserver.WithReadOnly(v.GetBool("replica-read-only")),
		)
	}

	if addr := v.GetString("admin-addr"); addr != "" {
		opts = append(opts,
			redisserver.WithMetrics(metrics.NewCollector("redis")),
			redisserver.WithAdminAddr(addr),
		)
	}
	return opts, nil
}
