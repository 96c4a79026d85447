package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alwitt/voxmux/bin"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	apexText "github.com/apex/log/handlers/text"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type recorderCliArgs struct {
	ConfigFile string `validate:"required,file"`
	DBPassword string
}

type supervisorCliArgs struct {
	ConfigFile string `validate:"required,file"`
}

type cliArgs struct {
	JSONLog        bool
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFile        string
	LogFileSizeMB  int `validate:"gte=1"`
	LogFileBackups int `validate:"gte=0"`
	Hostname       string
}

var s3CredsArgs common.S3Credentials

var recorderArgs recorderCliArgs

var supervisorArgs supervisorCliArgs

var cmdArgs cliArgs

var logTags log.Fields

// @title voxmux
// @version v0.1.0
// @description Multi-track voice channel recorder

// @host localhost:8080
// @BasePath /
// @query.collection.format multi
func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "application entrypoint",
		Description: "Multi-track voice channel recorder with restart handoff",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "Also write logs to this size rotated file",
				EnvVars:     []string{"LOG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.LogFile,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "log-file-size-mb",
				Usage:       "Rotate the log file at this size",
				EnvVars:     []string{"LOG_FILE_SIZE_MB"},
				Value:       100,
				DefaultText: "100",
				Destination: &cmdArgs.LogFileSizeMB,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "log-file-backups",
				Usage:       "Number of rotated log files to keep",
				EnvVars:     []string{"LOG_FILE_BACKUPS"},
				Value:       5,
				DefaultText: "5",
				Destination: &cmdArgs.LogFileBackups,
				Required:    false,
			},
			// S3 Creds
			&cli.StringFlag{
				Name:        "s3-access-key",
				Usage:       "S3 user access key, used when recording archival is enabled",
				EnvVars:     []string{"AWS_ACCESS_KEY_ID"},
				Destination: &s3CredsArgs.AccessKey,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "s3-secret-access-key",
				Usage:       "S3 user secret access key, used when recording archival is enabled",
				EnvVars:     []string{"AWS_SECRET_ACCESS_KEY"},
				Destination: &s3CredsArgs.SecretAccessKey,
				Required:    false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "record",
				Aliases:     []string{"rec"},
				Usage:       "Run the recorder",
				Description: "Connect the bot identities and start the recording API servers.",
				Flags: []cli.Flag{
					// Config file
					&cli.StringFlag{
						Name:        "config-file",
						Usage:       "Application config file",
						Aliases:     []string{"c"},
						EnvVars:     []string{"CONFIG_FILE"},
						Destination: &recorderArgs.ConfigFile,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "db-password",
						Usage:       "Recording index database user password",
						Aliases:     []string{"p"},
						EnvVars:     []string{"DB_USER_PASSWORD"},
						Value:       "",
						DefaultText: "",
						Destination: &recorderArgs.DBPassword,
						Required:    false,
					},
				},
				Action: startRecorderNode,
			},
			{
				Name:        "supervise",
				Aliases:     []string{"sup"},
				Usage:       "Run the recorder supervisor",
				Description: "Keep one recorder running and broker graceful restart handoffs.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "config-file",
						Usage:       "Application config file",
						Aliases:     []string{"c"},
						EnvVars:     []string{"SUPERVISOR_CONFIG_FILE"},
						Destination: &supervisorArgs.ConfigFile,
						Required:    true,
					},
				},
				Action: startSupervisorNode,
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() error {
	var output io.Writer = os.Stderr
	if cmdArgs.LogFile != "" {
		logFile, err := utils.NewRotatingLogFile(utils.LogFileConfig{
			Path:       cmdArgs.LogFile,
			MaxSizeMB:  cmdArgs.LogFileSizeMB,
			MaxBackups: cmdArgs.LogFileBackups,
		})
		if err != nil {
			return err
		}
		output = io.MultiWriter(os.Stderr, logFile)
	}
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(output))
	} else if cmdArgs.LogFile != "" {
		log.SetHandler(apexText.New(output))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
	return nil
}

// loadConfig helper function to read, parse, and validate a config file
func loadConfig(validate *validator.Validate, configFile string, configs interface{}) error {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to load config")
		return err
	}
	if err := viper.Unmarshal(configs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to parse config")
		return err
	}
	if err := validate.Struct(configs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Config file is not valid")
		return err
	}
	{
		t, _ := json.MarshalIndent(configs, "", "  ")
		log.WithFields(logTags).Debugf("Running with config:\n%s", string(t))
	}
	return nil
}

func startRecorderNode(c *cli.Context) error {
	validate := validator.New()

	// Validate general config
	if err := validate.Struct(&cmdArgs); err != nil {
		return err
	}

	if err := setupLogging(); err != nil {
		return err
	}

	// ================================================================================
	// Process recorder config
	if err := validate.Struct(&recorderArgs); err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			Error("Invalid parameters provided to start recorder")
		return err
	}

	common.InstallDefaultRecorderConfigValues()
	var configs common.RecorderNodeConfig
	if err := loadConfig(validate, recorderArgs.ConfigFile, &configs); err != nil {
		return err
	}

	if configs.Archive.Enabled && s3CredsArgs.AccessKey != "" {
		configs.Archive.S3.Creds = &s3CredsArgs
	}

	// ================================================================================
	// Define recorder node

	runtimeCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorderNode, err := bin.DefineRecorderNode(
		runtimeCtxt, cmdArgs.Hostname, configs, recorderArgs.DBPassword,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define and start recorder")
		return err
	}
	defer func() {
		if err := recorderNode.Cleanup(runtimeCtxt); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during recorder clean up")
		}
	}()

	// ================================================================================
	// Start HTTP servers

	wg := sync.WaitGroup{}
	defer wg.Wait()
	shutdownServers := bin.StartServers(&wg, map[string]*http.Server{
		"mgmt-api":     recorderNode.MgmtAPIServer,
		"download-api": recorderNode.DownloadAPIServer,
		"metrics-api":  recorderNode.MetricsServer,
	})
	defer shutdownServers(runtimeCtxt)

	// ------------------------------------------------------------------------------------
	// Wait for termination

	cc := make(chan os.Signal, 1)
	signal.Notify(cc, os.Interrupt, syscall.SIGTERM)
	select {
	case <-cc:
		log.WithFields(logTags).Info("Stopping all recordings before shutdown")
		stopCtxt, stopCancel := context.WithTimeout(runtimeCtxt, time.Minute)
		defer stopCancel()
		if err := recorderNode.Manager.StopAll(stopCtxt, common.StopReasonRequested); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure stopping recordings")
		}
	case <-recorderNode.Coordinator.Exiting():
		log.WithFields(logTags).Info("Recordings handed off, exiting")
	}

	return nil
}

func startSupervisorNode(c *cli.Context) error {
	validate := validator.New()

	// Validate general config
	if err := validate.Struct(&cmdArgs); err != nil {
		return err
	}

	if err := setupLogging(); err != nil {
		return err
	}

	// ================================================================================
	// Process supervisor config
	if err := validate.Struct(&supervisorArgs); err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			Error("Invalid parameters provided to start supervisor")
		return err
	}

	common.InstallDefaultSupervisorConfigValues()
	var configs common.SupervisorNodeConfig
	if err := loadConfig(validate, supervisorArgs.ConfigFile, &configs); err != nil {
		return err
	}

	// ================================================================================
	// Define supervisor node

	supervisorNode, err := bin.DefineSupervisorNode(cmdArgs.Hostname, configs)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define supervisor")
		return err
	}

	runtimeCtxt, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wg := sync.WaitGroup{}
	defer wg.Wait()
	shutdownServers := bin.StartServers(&wg, map[string]*http.Server{
		"handoff-api": supervisorNode.APIServer,
	})
	defer shutdownServers(context.Background())

	// Returns once signalled, after the recorders have stopped
	return supervisorNode.Supervisor.Run(runtimeCtxt)
}
