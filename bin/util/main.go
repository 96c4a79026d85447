package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/api"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"
)

type startRecordingArgs struct {
	GuildID         string  `validate:"required"`
	ChannelID       string  `validate:"required"`
	RequesterID     string  `validate:"required"`
	NoticeChannelID string  `validate:"required"`
	RecordHours     float64 `validate:"gte=0"`
}

type stopRecordingArgs struct {
	GuildID   string `validate:"required"`
	ChannelID string
}

type cliArgs struct {
	JSONLog         bool
	LogLevel        string `validate:"required,oneof=debug info warn error"`
	APIBaseURL      string `validate:"required,url"`
	RequestIDHeader string `validate:"required"`
}

var cmdArgs cliArgs

var logTags log.Fields

var startArgs startRecordingArgs

var stopArgs stopRecordingArgs

func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "application entrypoint",
		Description: "voxmux OPS support utility application",
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
			// Recorder management API base URL
			&cli.StringFlag{
				Name:        "api-base-url",
				Usage:       "Recorder management API base URL",
				Aliases:     []string{"u"},
				EnvVars:     []string{"MGMT_API_BASE_URL"},
				Value:       "http://127.0.0.1:8080",
				DefaultText: "http://127.0.0.1:8080",
				Destination: &cmdArgs.APIBaseURL,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "request-id-header",
				Usage:       "HTTP header for request ID",
				Aliases:     []string{"i"},
				EnvVars:     []string{"REQUEST_ID_HTTP_HEADER"},
				Value:       "X-Request-ID",
				DefaultText: "X-Request-ID",
				Destination: &cmdArgs.RequestIDHeader,
				Required:    false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "start-recording",
				Aliases:     []string{"start"},
				Usage:       "Start recording a voice channel",
				Description: "Ask the recorder to join and record a voice channel.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "guild",
						Usage:       "Guild ID",
						Aliases:     []string{"g"},
						Destination: &startArgs.GuildID,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "channel",
						Usage:       "Voice channel ID",
						Aliases:     []string{"c"},
						Destination: &startArgs.ChannelID,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "requester",
						Usage:       "User ID of the requester, receives the private notices",
						Aliases:     []string{"r"},
						Destination: &startArgs.RequesterID,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "notice-channel",
						Usage:       "Text channel ID for the public notices",
						Aliases:     []string{"n"},
						Destination: &startArgs.NoticeChannelID,
						Required:    true,
					},
					&cli.Float64Flag{
						Name:        "record-hours",
						Usage:       "Override the recording time limit. Zero uses the recorder default.",
						Value:       0,
						DefaultText: "0",
						Destination: &startArgs.RecordHours,
						Required:    false,
					},
				},
				Action: startRecording,
			},
			{
				Name:        "stop-recording",
				Aliases:     []string{"stop"},
				Usage:       "Stop recordings",
				Description: "Stop the recording of one channel, or every recording in a guild.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "guild",
						Usage:       "Guild ID",
						Aliases:     []string{"g"},
						Destination: &stopArgs.GuildID,
						Required:    true,
					},
					&cli.StringFlag{
						Name:        "channel",
						Usage:       "Voice channel ID. If not set, all recordings in the guild stop.",
						Aliases:     []string{"c"},
						Destination: &stopArgs.ChannelID,
						Required:    false,
					},
				},
				Action: stopRecording,
			},
			{
				Name:        "list-recordings",
				Aliases:     []string{"ls"},
				Usage:       "List recordings",
				Description: "List the recordings tracked by the recorder.",
				Action:      listRecordings,
			},
			{
				Name:        "request-restart",
				Usage:       "Gracefully restart the recorder",
				Description: "Hand the running recordings to a new recorder process.",
				Action:      requestRestart,
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
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
}

// prepare validate the general parameters and setup logging
func prepare(validate *validator.Validate, cmdSpecific interface{}) error {
	if err := validate.Struct(&cmdArgs); err != nil {
		return err
	}
	setupLogging()
	if cmdSpecific != nil {
		if err := validate.Struct(cmdSpecific); err != nil {
			return err
		}
	}
	return nil
}

/*
callAPI make one management API call

	@param method string - HTTP method
	@param path string - path relative to the API base URL
	@param body interface{} - request payload, nil if none
	@param result interface{} - response payload to parse into
*/
func callAPI(method, path string, body, result interface{}) error {
	targetURL, err := url.Parse(fmt.Sprintf("%s%s", cmdArgs.APIBaseURL, path))
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("path", path).
			Error("Unable to parse management API URL")
		return err
	}

	reqID := ulid.Make().String()

	request := resty.New().R().
		// Set request header
		SetHeader(cmdArgs.RequestIDHeader, reqID).
		// Setup error parsing
		SetError(goutils.RestAPIBaseResponse{})
	if body != nil {
		request = request.SetBody(body)
	}

	resp, err := request.Execute(method, targetURL.String())
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("request-id", reqID).
			WithField("path", path).
			Error("Management API call failed")
		return err
	}
	if resp.IsError() {
		respError := resp.Error().(*goutils.RestAPIBaseResponse)
		var err error
		if respError.Error != nil {
			err = fmt.Errorf("%s", respError.Error.Detail)
		} else {
			err = fmt.Errorf("status code %d", resp.StatusCode())
		}
		log.
			WithError(err).
			WithFields(logTags).
			WithField("request-id", reqID).
			WithField("path", path).
			Error("Management API request failed")
		return err
	}
	if result != nil {
		if err := json.Unmarshal(resp.Body(), result); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to parse management API response")
			return err
		}
	}
	return nil
}

// printJSON write a response to stdout
func printJSON(payload interface{}) {
	t, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Println(string(t))
}

func startRecording(c *cli.Context) error {
	validate := validator.New()
	if err := prepare(validate, &startArgs); err != nil {
		return err
	}

	request := common.RecordingRequest{
		GuildID:         startArgs.GuildID,
		ChannelID:       startArgs.ChannelID,
		RequesterID:     startArgs.RequesterID,
		NoticeChannelID: startArgs.NoticeChannelID,
	}
	if startArgs.RecordHours > 0 {
		request.Features = &common.Features{
			Limits: common.FeatureLimits{Record: startArgs.RecordHours},
		}
	}

	var resp api.StartRecordingResponse
	if err := callAPI(http.MethodPost, "/v1/recording", request, &resp); err != nil {
		return err
	}
	printJSON(resp.Recording)
	return nil
}

func stopRecording(c *cli.Context) error {
	validate := validator.New()
	if err := prepare(validate, &stopArgs); err != nil {
		return err
	}

	path := fmt.Sprintf("/v1/recording/guild/%s", url.PathEscape(stopArgs.GuildID))
	if stopArgs.ChannelID != "" {
		path = fmt.Sprintf("%s/channel/%s", path, url.PathEscape(stopArgs.ChannelID))
	}

	var resp api.StopRecordingsResponse
	if err := callAPI(http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}
	if stopArgs.ChannelID == "" {
		log.WithFields(logTags).WithField("stopped", resp.Stopped).Info("Guild recordings stopped")
	} else {
		log.WithFields(logTags).Info("Channel recording stopped")
	}
	return nil
}

func listRecordings(c *cli.Context) error {
	validate := validator.New()
	if err := prepare(validate, nil); err != nil {
		return err
	}

	var resp api.RecordingListResponse
	if err := callAPI(http.MethodGet, "/v1/recording", nil, &resp); err != nil {
		return err
	}
	printJSON(resp.Recordings)
	return nil
}

func requestRestart(c *cli.Context) error {
	validate := validator.New()
	if err := prepare(validate, nil); err != nil {
		return err
	}

	if err := callAPI(http.MethodPost, "/v1/restart", nil, nil); err != nil {
		return err
	}
	log.WithFields(logTags).Info("Graceful restart requested")
	return nil
}
