package utils

import (
	"github.com/alwitt/voxmux/common"
	"github.com/go-resty/resty/v2"
)

/*
DefineHTTPClient helper function to define a resty HTTP client

	@param config common.HTTPClientConfig - HTTP client config
	@returns new resty client
*/
func DefineHTTPClient(config common.HTTPClientConfig) (*resty.Client, error) {
	newClient := resty.New()

	// Configure resty client retry setting
	newClient = newClient.
		SetRetryCount(config.Retry.MaxAttempts).
		SetRetryWaitTime(config.Retry.InitWaitTime()).
		SetRetryMaxWaitTime(config.Retry.MaxWaitTime())

	if config.TimeoutInSec > 0 {
		newClient = newClient.SetTimeout(config.Timeout())
	}

	return newClient, nil
}
