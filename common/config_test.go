package common_test

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/alwitt/voxmux/common"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestRecorderNodeConfig(t *testing.T) {
	assert := assert.New(t)

	validate := validator.New()

	// Case 0: by default the config is not valid
	{
		cfg := common.RecorderNodeConfig{}
		assert.NotNil(validate.Struct(&cfg))
	}

	// Install defaults
	common.InstallDefaultRecorderConfigValues()

	{
		_, err := os.Create("/tmp/psql_ca.pem")
		assert.Nil(err)
	}

	viper.SetConfigType("yaml")

	// Case 1: a complete valid case
	{
		config := []byte(`---
identities:
  primary:
    name: craig
    nick: Craig
    tokenEnv: PRIMARY_TOKEN
  secondaries:
    - name: giarc
      nick: Giarc
      tokenEnv: SECONDARY_TOKEN

index:
  postgres:
    host: postgres
    db: postgres
    user: postgres
    ssl:
      enabled: true
      caFile: /tmp/psql_ca.pem

archive:
  enabled: true
  bucket: recordings
  s3:
    endpoint: minio:9000

broadcast:
  pubsub:
    gcpProject: voxmux
    topic: recording-events`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.RecorderNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		err := validate.Struct(&cfg)
		assert.Nil(err)

		// Verify the some fields
		assert.Equal(60, cfg.Management.Server.Timeouts.IdleTimeout)
		assert.Equal("postgres", cfg.Index.Postgres.User)
		assert.NotNil(cfg.Index.Postgres.SSL.CAFile)
		assert.Equal("/tmp/psql_ca.pem", *cfg.Index.Postgres.SSL.CAFile)
		assert.Len(cfg.Identities.All(), 2)
		assert.Equal("Giarc", cfg.Identities.All()[1].Nick)
		assert.Equal(time.Minute, cfg.Session.IdleSampleInt())
		assert.Equal(uint32(5), cfg.Session.IdleWarnAfterSamples)
		assert.Equal(time.Hour*24, cfg.Handoff.UptimeRestart())
		assert.Equal(time.Hour*6, cfg.Handoff.PlaceholderTTL())
		assert.Equal(time.Second*30, cfg.Handoff.DrainGrace())
		assert.Nil(cfg.Handoff.SupervisorURL)
		assert.Equal("minio:9000", cfg.Archive.S3.ServerEndpoint)
		assert.Equal("recording-events", cfg.BroadcastSystem.PubSub.Topic)

		limits := common.LimitsFromFeatures(cfg.Limits.Features(), cfg.Limits.HardLimitBytes)
		assert.Equal(time.Hour*6, limits.Record)
		assert.Equal(time.Hour*168, limits.Retention)
		assert.Equal(uint64(536870912), limits.MaxBytes)
	}

	// Case 2: missing a config parameter
	{
		config := []byte(`---
identities:
  primary:
    name: craig
    tokenEnv: PRIMARY_TOKEN`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.RecorderNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		err := validate.Struct(&cfg)
		assert.NotNil(err)
	}

	// Case 3: value fail constraint
	{
		config := []byte(`---
identities:
  primary:
    name: craig
    nick: Craig
    tokenEnv: PRIMARY_TOKEN

limits:
  downloadHours: 0`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.RecorderNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		err := validate.Struct(&cfg)
		assert.NotNil(err)
	}

	// Case 4: archive enabled without S3 settings
	{
		config := []byte(`---
identities:
  primary:
    name: craig
    nick: Craig
    tokenEnv: PRIMARY_TOKEN

archive:
  enabled: true
  bucket: recordings`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.RecorderNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		err := validate.Struct(&cfg)
		assert.NotNil(err)
	}
}

func TestSupervisorNodeConfig(t *testing.T) {
	assert := assert.New(t)

	validate := validator.New()

	common.InstallDefaultSupervisorConfigValues()

	viper.SetConfigType("yaml")

	// Case 0: defaults only
	{
		config := []byte(`---
lockFile: /tmp/voxmux.lock`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.SupervisorNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("127.0.0.1", cfg.APIServer.Server.ListenOn)
		assert.Equal([]string{"record"}, cfg.Recorder.Args)
		assert.Equal(time.Second*5, cfg.Recorder.RestartBackoff())
	}

	// Case 1: executable must exist
	{
		config := []byte(`---
recorder:
  executable: /does/not/exist/voxmux`)
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg common.SupervisorNodeConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}
}
