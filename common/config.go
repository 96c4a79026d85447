package common

import (
	"time"

	"github.com/alwitt/goutils"
	"github.com/spf13/viper"
)

// ===============================================================================
// Common Submodule Config

// HTTPServerTimeoutConfig defines the timeout settings for HTTP server
type HTTPServerTimeoutConfig struct {
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read" json:"read" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write" json:"write" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle" json:"idle" validate:"gte=0"`
}

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listenOn" json:"listenOn" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"appPort" json:"appPort" validate:"required,gt=0,lt=65536"`
	// Timeouts sets the HTTP timeout settings
	Timeouts HTTPServerTimeoutConfig `mapstructure:"timeoutSecs" json:"timeoutSecs" validate:"required"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// LogLevel output request logs at this level
	LogLevel goutils.HTTPRequestLogLevel `mapstructure:"logLevel" json:"logLevel" validate:"oneof=warn info debug"`
	// HealthLogLevel output health check logs at this level
	HealthLogLevel goutils.HTTPRequestLogLevel `mapstructure:"healthLogLevel" json:"healthLogLevel" validate:"oneof=warn info debug"`
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"requestIDHeader" json:"requestIDHeader"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"skipHeaders" json:"skipHeaders"`
}

// EndpointConfig defines API endpoint config
type EndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"pathPrefix" json:"pathPrefix" validate:"required"`
}

// APIConfig defines API settings for a submodule
type APIConfig struct {
	// Endpoint sets API endpoint related parameters
	Endpoint EndpointConfig `mapstructure:"endPoint" json:"endPoint" validate:"required"`
	// RequestLogging sets API request logging parameters
	RequestLogging HTTPRequestLogging `mapstructure:"requestLogging" json:"requestLogging" validate:"required"`
}

// APIServerConfig defines HTTP API / server parameters
type APIServerConfig struct {
	// Enabled whether this API is enabled
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"service" json:"service" validate:"required_with=Enabled"`
	// APIs defines API settings for a submodule
	APIs APIConfig `mapstructure:"apis" json:"apis" validate:"required_with=Enabled"`
}

// HTTPClientRetryConfig HTTP client config retry configuration
type HTTPClientRetryConfig struct {
	// MaxAttempts max number of retry attempts
	MaxAttempts int `mapstructure:"maxAttempts" json:"maxAttempts" validate:"gte=0"`
	// InitWaitTimeInSec wait time before the first wait retry
	InitWaitTimeInSec uint32 `mapstructure:"initialWaitTimeInSec" json:"initialWaitTimeInSec" validate:"gte=1"`
	// MaxWaitTimeInSec max wait time
	MaxWaitTimeInSec uint32 `mapstructure:"maxWaitTimeInSec" json:"maxWaitTimeInSec" validate:"gte=1"`
}

// InitWaitTime convert InitWaitTimeInSec to time.Duration
func (c HTTPClientRetryConfig) InitWaitTime() time.Duration {
	return time.Second * time.Duration(c.InitWaitTimeInSec)
}

// MaxWaitTime convert MaxWaitTimeInSec to time.Duration
func (c HTTPClientRetryConfig) MaxWaitTime() time.Duration {
	return time.Second * time.Duration(c.MaxWaitTimeInSec)
}

// HTTPClientConfig HTTP client config targeting `go-resty`
type HTTPClientConfig struct {
	// Retry client retry configuration. See https://github.com/go-resty/resty#retries for details
	Retry HTTPClientRetryConfig `mapstructure:"retry" json:"retry" validate:"required"`
	// TimeoutInSec overall request timeout in secs
	TimeoutInSec uint32 `mapstructure:"timeoutInSec" json:"timeoutInSec" validate:"gte=1"`
}

// Timeout convert TimeoutInSec to time.Duration
func (c HTTPClientConfig) Timeout() time.Duration {
	return time.Second * time.Duration(c.TimeoutInSec)
}

// MetricsFeatureConfig metrics framework features config
type MetricsFeatureConfig struct {
	// EnableAppMetrics whether to enable Golang application metrics
	EnableAppMetrics bool `mapstructure:"enableAppMetrics" json:"enableAppMetrics"`
}

// MetricsConfig application metrics config
type MetricsConfig struct {
	// Enabled whether to host the metrics endpoint
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"service" json:"service" validate:"required_with=Enabled"`
	// MetricsEndpoint path to host the Prometheus metrics endpoint
	MetricsEndpoint string `mapstructure:"metricsEndpoint" json:"metricsEndpoint" validate:"required"`
	// MaxRequests max number of metrics requests in parallel to support
	MaxRequests int `mapstructure:"maxRequests" json:"maxRequests" validate:"gte=1"`
	// Features metrics framework features to enable
	Features MetricsFeatureConfig `mapstructure:"features" json:"features"`
}

// ===============================================================================
// Persistence Configuration Structures

// PostgresSSLConfig Postgres connection SSL config
type PostgresSSLConfig struct {
	// Enabled whether to enable SSL when connecting to Postgres
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// CAFile the CA cert file to challenge remote with
	CAFile *string `mapstructure:"caFile" json:"caFile,omitempty" validate:"omitempty,file"`
}

// PostgresConfig Postgres connection config
type PostgresConfig struct {
	// Host Postgres server host
	Host string `mapstructure:"host" json:"host" validate:"required"`
	// Port Postgres server port
	Port uint16 `mapstructure:"port" json:"port" validate:"lte=65535,gte=0"`
	// Database the specific database to use
	Database string `mapstructure:"db" json:"db" validate:"required"`
	// User the user to connect with
	User string `mapstructure:"user" json:"user" validate:"required"`
	// SSL the connection SSL settings
	SSL PostgresSSLConfig `mapstructure:"ssl" json:"ssl" validate:"required"`
}

// SqliteConfig sqlite config
type SqliteConfig struct {
	// DBFile the sqlite DB file path
	DBFile string `mapstructure:"db" json:"db" validate:"required"`
}

// RecordingIndexConfig recording index DB config. Postgres is used when defined, otherwise
// the sqlite DB.
type RecordingIndexConfig struct {
	// Sqlite sqlite DB configuration
	Sqlite SqliteConfig `mapstructure:"sqlite" json:"sqlite" validate:"required"`
	// Postgres optional postgres DB configuration
	Postgres *PostgresConfig `mapstructure:"postgres" json:"postgres,omitempty" validate:"omitempty"`
}

// S3Credentials S3 credentials
type S3Credentials struct {
	// AccessKey user access key
	AccessKey string
	// SecretAccessKey user secret access key
	SecretAccessKey string
}

// S3Config S3 object store config
type S3Config struct {
	// ServerEndpoint S3 server endpoint
	ServerEndpoint string `mapstructure:"endpoint" json:"endpoint" validate:"required"`
	// UseTLS whether to TLS when connecting
	UseTLS bool `mapstructure:"useTLS" json:"useTLS"`
	// Creds S3 credentials
	Creds *S3Credentials `mapstructure:"creds" json:"-" validate:"omitempty"`
}

// ArchiveConfig closed recording archival config
type ArchiveConfig struct {
	// Enabled whether closed recordings are copied into object storage
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// S3 object store config
	S3 *S3Config `mapstructure:"s3" json:"s3,omitempty" validate:"required_with=Enabled"`
	// StorageBucket the storage bucket to place recording artifacts in
	StorageBucket string `mapstructure:"bucket" json:"bucket" validate:"required_with=Enabled"`
	// StorageObjectPrefix the prefix used when defining the object key of an artifact
	StorageObjectPrefix string `mapstructure:"objectPrefix" json:"objectPrefix"`
	// MaxInFlight max number of recordings to archive in parallel
	MaxInFlight int `mapstructure:"maxInFlight" json:"maxInFlight" validate:"gte=1"`
}

// ===============================================================================
// GCP PubSub Configuration Structures

// PubSubTopicConfig PubSub topic config
type PubSubTopicConfig struct {
	// GCPProject the GCP project to operate in
	GCPProject string `mapstructure:"gcpProject" json:"gcpProject" validate:"required"`
	// Topic the pubsub topic to publish to
	Topic string `mapstructure:"topic" json:"topic" validate:"required"`
}

// BroadcastSystemConfig recording event broadcast channel configuration
type BroadcastSystemConfig struct {
	// PubSub broadcast PubSub settings. If not set, events are only logged.
	PubSub *PubSubTopicConfig `mapstructure:"pubsub" json:"pubsub,omitempty" validate:"omitempty"`
}

// ===============================================================================
// Recorder Configuration Structures

// IdentityConfig one bot login identity able to occupy one voice channel per guild
type IdentityConfig struct {
	// Name identity label used in logs
	Name string `mapstructure:"name" json:"name" validate:"required"`
	// Nick the nickname the identity uses in a guild when not recording
	Nick string `mapstructure:"nick" json:"nick" validate:"required"`
	// TokenEnv name of the environment variable holding the identity's bot token
	TokenEnv string `mapstructure:"tokenEnv" json:"tokenEnv" validate:"required"`
}

// IdentitiesConfig all connection identities available to the recorder
type IdentitiesConfig struct {
	// Primary the main identity
	Primary IdentityConfig `mapstructure:"primary" json:"primary" validate:"required"`
	// Secondaries additional identities, tried in order after the primary
	Secondaries []IdentityConfig `mapstructure:"secondaries" json:"secondaries" validate:"omitempty,dive"`
}

// All list identities in admission order
func (c IdentitiesConfig) All() []IdentityConfig {
	return append([]IdentityConfig{c.Primary}, c.Secondaries...)
}

// RecordingLimitsConfig default recording limits
type RecordingLimitsConfig struct {
	// RecordHours max recording duration in hours
	RecordHours float64 `mapstructure:"recordHours" json:"recordHours" validate:"gte=0"`
	// DownloadHours hours a recording is retained for download before deletion
	DownloadHours float64 `mapstructure:"downloadHours" json:"downloadHours" validate:"gt=0"`
	// HardLimitBytes max bytes written per recording. Zero means unlimited.
	HardLimitBytes uint64 `mapstructure:"hardLimit" json:"hardLimit"`
}

// Features convert to the default recording features
func (c RecordingLimitsConfig) Features() Features {
	return Features{Limits: FeatureLimits{Record: c.RecordHours, Download: c.DownloadHours}}
}

// SessionMonitorConfig recording session liveness monitoring config
type SessionMonitorConfig struct {
	// IdleSampleIntInSec interval between byte count samples in secs
	IdleSampleIntInSec uint32 `mapstructure:"idleSampleIntInSec" json:"idleSampleIntInSec" validate:"gte=1"`
	// IdleWarnAfterSamples number of consecutive idle samples before the idle warning
	IdleWarnAfterSamples uint32 `mapstructure:"idleWarnAfterSamples" json:"idleWarnAfterSamples" validate:"gte=1"`
	// EventQueueLen per session event queue length
	EventQueueLen int `mapstructure:"eventQueueLen" json:"eventQueueLen" validate:"gte=1"`
	// RecordingNickSuffix suffix appended to the identity nick while recording
	RecordingNickSuffix string `mapstructure:"recordingNickSuffix" json:"recordingNickSuffix"`
}

// IdleSampleInt convert IdleSampleIntInSec to time.Duration
func (c SessionMonitorConfig) IdleSampleInt() time.Duration {
	return time.Second * time.Duration(c.IdleSampleIntInSec)
}

// StorageConfig recording artifact storage config
type StorageConfig struct {
	// Dir directory holding the recording artifacts
	Dir string `mapstructure:"dir" json:"dir" validate:"required"`
	// ReaperIntInSec interval between expired recording purges in secs
	ReaperIntInSec uint32 `mapstructure:"reaperIntInSec" json:"reaperIntInSec" validate:"gte=10"`
}

// ReaperInt convert ReaperIntInSec to time.Duration
func (c StorageConfig) ReaperInt() time.Duration {
	return time.Second * time.Duration(c.ReaperIntInSec)
}

// DownloadAPIConfig recording download API config
type DownloadAPIConfig struct {
	// APIServer download REST API server config
	APIServer APIServerConfig `mapstructure:"api" json:"api" validate:"required"`
	// PublicURL base URL of the download API as seen by users
	PublicURL string `mapstructure:"publicURL" json:"publicURL" validate:"required,url"`
	// AllowedOrigins CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowedOrigins" json:"allowedOrigins"`
}

// HandoffConfig graceful restart handoff config
type HandoffConfig struct {
	// SupervisorURL base URL of the supervisor handoff API. If not set, the recorder
	// restarts by spawning a detached copy of itself.
	SupervisorURL *string `mapstructure:"supervisorURL" json:"supervisorURL,omitempty" validate:"omitempty,url"`
	// RequestIDHeader request ID header name to set when calling the supervisor
	RequestIDHeader string `mapstructure:"requestIDHeader" json:"requestIDHeader" validate:"required"`
	// Client HTTP client config
	Client HTTPClientConfig `mapstructure:"client" json:"client" validate:"required"`
	// DrainGraceInSec once no tracked session remains, wait this long before exiting
	DrainGraceInSec uint32 `mapstructure:"drainGraceInSec" json:"drainGraceInSec"`
	// MaxDrainInSec upper bound on how long an exiting process waits for sessions to close
	MaxDrainInSec uint32 `mapstructure:"maxDrainInSec" json:"maxDrainInSec" validate:"gte=1"`
	// UptimeRestartInHours automatically restart after this many hours. Zero disables.
	UptimeRestartInHours float64 `mapstructure:"uptimeRestartInHours" json:"uptimeRestartInHours" validate:"gte=0"`
	// TriggerDir creating a file named "restart" in this DIR triggers a graceful restart
	TriggerDir *string `mapstructure:"triggerDir" json:"triggerDir,omitempty" validate:"omitempty,dir"`
	// PlaceholderTTLInSec handed-off recordings are forgotten after this duration
	PlaceholderTTLInSec uint32 `mapstructure:"placeholderTTLInSec" json:"placeholderTTLInSec" validate:"gte=1"`
}

// DrainGrace convert DrainGraceInSec to time.Duration
func (c HandoffConfig) DrainGrace() time.Duration {
	return time.Second * time.Duration(c.DrainGraceInSec)
}

// MaxDrain convert MaxDrainInSec to time.Duration
func (c HandoffConfig) MaxDrain() time.Duration {
	return time.Second * time.Duration(c.MaxDrainInSec)
}

// UptimeRestart convert UptimeRestartInHours to time.Duration
func (c HandoffConfig) UptimeRestart() time.Duration {
	return time.Duration(c.UptimeRestartInHours * float64(time.Hour))
}

// PlaceholderTTL convert PlaceholderTTLInSec to time.Duration
func (c HandoffConfig) PlaceholderTTL() time.Duration {
	return time.Second * time.Duration(c.PlaceholderTTLInSec)
}

// OccupancyReportConfig periodic occupancy report config
type OccupancyReportConfig struct {
	// ReportIntInSec interval between occupancy reports in secs
	ReportIntInSec uint32 `mapstructure:"reportIntInSec" json:"reportIntInSec" validate:"gte=5"`
}

// ReportInt convert ReportIntInSec to time.Duration
func (c OccupancyReportConfig) ReportInt() time.Duration {
	return time.Second * time.Duration(c.ReportIntInSec)
}

// RecorderProcessConfig how the supervisor runs the recorder process
type RecorderProcessConfig struct {
	// Executable recorder executable. Defaults to the supervisor's own executable.
	Executable *string `mapstructure:"executable" json:"executable,omitempty" validate:"omitempty,file"`
	// Args arguments passed to the recorder process
	Args []string `mapstructure:"args" json:"args" validate:"required,gte=1"`
	// RestartBackoffInSec wait time before restarting a crashed recorder
	RestartBackoffInSec uint32 `mapstructure:"restartBackoffInSec" json:"restartBackoffInSec" validate:"gte=1"`
}

// RestartBackoff convert RestartBackoffInSec to time.Duration
func (c RecorderProcessConfig) RestartBackoff() time.Duration {
	return time.Second * time.Duration(c.RestartBackoffInSec)
}

// ===============================================================================
// Complete Configuration Structures

// RecorderNodeConfig define recorder process settings and behavior
type RecorderNodeConfig struct {
	// Metrics metrics framework configuration
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" validate:"required"`
	// Identities bot connection identities
	Identities IdentitiesConfig `mapstructure:"identities" json:"identities" validate:"required"`
	// Limits default recording limits
	Limits RecordingLimitsConfig `mapstructure:"limits" json:"limits" validate:"required"`
	// Session recording session monitoring config
	Session SessionMonitorConfig `mapstructure:"session" json:"session" validate:"required"`
	// Storage recording artifact storage config
	Storage StorageConfig `mapstructure:"storage" json:"storage" validate:"required"`
	// Index recording index DB config
	Index RecordingIndexConfig `mapstructure:"index" json:"index" validate:"required"`
	// Archive closed recording archival config
	Archive ArchiveConfig `mapstructure:"archive" json:"archive" validate:"required"`
	// Management recording management REST API config
	Management APIServerConfig `mapstructure:"management" json:"management" validate:"required"`
	// Download recording download API config
	Download DownloadAPIConfig `mapstructure:"download" json:"download" validate:"required"`
	// Handoff graceful restart config
	Handoff HandoffConfig `mapstructure:"handoff" json:"handoff" validate:"required"`
	// Occupancy occupancy report config
	Occupancy OccupancyReportConfig `mapstructure:"occupancy" json:"occupancy" validate:"required"`
	// BroadcastSystem recording event broadcast channel configuration
	BroadcastSystem BroadcastSystemConfig `mapstructure:"broadcast" json:"broadcast"`
}

// SupervisorNodeConfig define supervisor process settings and behavior
type SupervisorNodeConfig struct {
	// APIServer handoff REST API server config
	APIServer APIServerConfig `mapstructure:"api" json:"api" validate:"required"`
	// Recorder recorder process config
	Recorder RecorderProcessConfig `mapstructure:"recorder" json:"recorder" validate:"required"`
	// LockFile supervisor instance lock file
	LockFile string `mapstructure:"lockFile" json:"lockFile" validate:"required"`
}

// ===============================================================================
// Default Configuration Setter

func installDefaultAPIServerConfigValues(prefix string, port int, logLevel string) {
	viper.SetDefault(prefix+".enabled", true)
	viper.SetDefault(prefix+".service.listenOn", "0.0.0.0")
	viper.SetDefault(prefix+".service.appPort", port)
	viper.SetDefault(prefix+".service.timeoutSecs.read", 60)
	viper.SetDefault(prefix+".service.timeoutSecs.write", 60)
	viper.SetDefault(prefix+".service.timeoutSecs.idle", 60)
	viper.SetDefault(prefix+".apis.endPoint.pathPrefix", "/")
	viper.SetDefault(prefix+".apis.requestLogging.logLevel", logLevel)
	viper.SetDefault(prefix+".apis.requestLogging.healthLogLevel", "debug")
	viper.SetDefault(prefix+".apis.requestLogging.requestIDHeader", "X-Request-ID")
	viper.SetDefault(prefix+".apis.requestLogging.skipHeaders", []string{
		"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
	})
}

// InstallDefaultRecorderConfigValues installs default config parameters in viper for the
// recorder process
func InstallDefaultRecorderConfigValues() {
	// Default metrics config
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.metricsEndpoint", "/metrics")
	viper.SetDefault("metrics.maxRequests", 4)
	viper.SetDefault("metrics.features.enableAppMetrics", false)
	viper.SetDefault("metrics.service.listenOn", "0.0.0.0")
	viper.SetDefault("metrics.service.appPort", 3001)
	viper.SetDefault("metrics.service.timeoutSecs.read", 60)
	viper.SetDefault("metrics.service.timeoutSecs.write", 60)
	viper.SetDefault("metrics.service.timeoutSecs.idle", 60)

	// Default recording limits
	viper.SetDefault("limits.recordHours", 6)
	viper.SetDefault("limits.downloadHours", 168)
	viper.SetDefault("limits.hardLimit", 536870912)

	// Default session monitor config
	viper.SetDefault("session.idleSampleIntInSec", 60)
	viper.SetDefault("session.idleWarnAfterSamples", 5)
	viper.SetDefault("session.eventQueueLen", 128)
	viper.SetDefault("session.recordingNickSuffix", " [RECORDING]")

	// Default storage config
	viper.SetDefault("storage.dir", "rec")
	viper.SetDefault("storage.reaperIntInSec", 300)

	// Default recording index config
	viper.SetDefault("index.sqlite.db", "voxmux.db")

	// Default archive config
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.objectPrefix", "recordings")
	viper.SetDefault("archive.maxInFlight", 2)

	// Default management API config
	installDefaultAPIServerConfigValues("management", 8080, "warn")

	// Default download API config
	installDefaultAPIServerConfigValues("download.api", 8081, "info")
	viper.SetDefault("download.publicURL", "http://localhost:8081")
	viper.SetDefault("download.allowedOrigins", []string{"*"})

	// Default handoff config
	viper.SetDefault("handoff.requestIDHeader", "X-Request-ID")
	viper.SetDefault("handoff.client.retry.maxAttempts", 3)
	viper.SetDefault("handoff.client.retry.initialWaitTimeInSec", 1)
	viper.SetDefault("handoff.client.retry.maxWaitTimeInSec", 5)
	viper.SetDefault("handoff.client.timeoutInSec", 10)
	viper.SetDefault("handoff.drainGraceInSec", 30)
	viper.SetDefault("handoff.maxDrainInSec", 21600)
	viper.SetDefault("handoff.uptimeRestartInHours", 24)
	viper.SetDefault("handoff.placeholderTTLInSec", 21600)

	// Default occupancy report config
	viper.SetDefault("occupancy.reportIntInSec", 60)
}

// InstallDefaultSupervisorConfigValues installs default config parameters in viper for the
// supervisor process
func InstallDefaultSupervisorConfigValues() {
	installDefaultAPIServerConfigValues("api", 9090, "info")
	viper.SetDefault("api.service.listenOn", "127.0.0.1")
	viper.SetDefault("recorder.args", []string{"record"})
	viper.SetDefault("recorder.restartBackoffInSec", 5)
	viper.SetDefault("lockFile", "voxmux-supervisor.lock")
}
