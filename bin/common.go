package bin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// buildPubSubClient helper function for defining the PubSub client
func buildPubSubClient(ctxt context.Context, gcpProject string) (goutils.PubSubClient, error) {
	var rawPSClient *pubsub.Client
	rawPSClient, err := goutils.CreateBasicGCPPubSubClient(ctxt, gcpProject)
	if err != nil {
		log.WithError(err).Error("Failed to create core PubSub client")
		return nil, err
	}

	// Define PubSub client
	psClient, err := goutils.GetNewPubSubClientInstance(rawPSClient, log.Fields{
		"module": "go-utils", "component": "pubsub-client", "project": gcpProject,
	}, nil)
	if err != nil {
		log.WithError(err).Error("Failed to create PubSub client")
		return nil, err
	}

	// Sync PubSub client with currently existing topics
	if err := psClient.UpdateLocalTopicCache(ctxt); err != nil {
		log.WithError(err).Error("Errored when syncing existing topics in GCP project")
		return nil, err
	}

	return psClient, nil
}

/*
StartServers start HTTP servers in the background

	@param wg *sync.WaitGroup - wait group tracking the server goroutines
	@param servers map[string]*http.Server - the servers, by name. Nil entries are skipped.
	@returns function to shutdown the started servers
*/
func StartServers(
	wg *sync.WaitGroup, servers map[string]*http.Server,
) func(ctxt context.Context) {
	started := map[string]*http.Server{}
	for name, svr := range servers {
		if svr == nil {
			continue
		}
		started[name] = svr
		wg.Add(1)
		go func(name string, svr *http.Server) {
			defer wg.Done()
			if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Errorf("%s HTTP server failure", name)
			}
		}(name, svr)
	}

	return func(ctxt context.Context) {
		for name, svr := range started {
			ctx, cancel := context.WithTimeout(ctxt, time.Second*10)
			if err := svr.Shutdown(ctx); err != nil {
				log.WithError(err).Errorf("Failure during HTTP Server %s shutdown", name)
			}
			cancel()
		}
	}
}
