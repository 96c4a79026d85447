package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// methodHandlers DICT of method-endpoint handler
type methodHandlers map[string]http.HandlerFunc

// registerPathPrefix registers new method handler for a path prefix
func registerPathPrefix(parent *mux.Router, prefix string, handler methodHandlers) *mux.Router {
	router := parent.PathPrefix(prefix).Subrouter()
	for method, handler := range handler {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// newRestAPIHandler define the common REST handler base
func newRestAPIHandler(
	logTags log.Fields, logConfig common.HTTPRequestLogging,
) goutils.RestAPIHandler {
	return goutils.RestAPIHandler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		CallRequestIDHeaderField: &logConfig.RequestIDHeader,
		DoNotLogHeaders: func() map[string]bool {
			result := map[string]bool{}
			for _, v := range logConfig.DoNotLogHeaders {
				result[v] = true
			}
			return result
		}(),
		LogLevel: logConfig.LogLevel,
	}
}

// newHTTPServer wrap a router in a HTTP server
func newHTTPServer(serverCfg common.HTTPServerConfig, handler http.Handler) *http.Server {
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	return &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.Timeouts.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.Timeouts.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.Timeouts.IdleTimeout),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
	}
}
