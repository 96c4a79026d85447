package bin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/api"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/db"
	"github.com/alwitt/voxmux/forwarder"
	"github.com/alwitt/voxmux/handoff"
	"github.com/alwitt/voxmux/recorder"
	"github.com/alwitt/voxmux/storage"
	"github.com/alwitt/voxmux/utils"
	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm/logger"
)

// RecorderNode the recording process
type RecorderNode struct {
	nodeRuntimeCtxt   context.Context
	ctxtCancel        context.CancelFunc
	psClient          goutils.PubSubClient
	connectors        []voice.DiscordConnector
	archiver          forwarder.RecordingArchiver
	reaper            storage.Reaper
	triggers          []handoff.Trigger
	Manager           recorder.Manager
	Coordinator       handoff.Coordinator
	MgmtAPIServer     *http.Server
	DownloadAPIServer *http.Server
	MetricsServer     *http.Server
}

/*
Cleanup stop and clean up the recorder node

	@param ctxt context.Context - execution context
*/
func (n RecorderNode) Cleanup(ctxt context.Context) error {
	for _, trigger := range n.triggers {
		if err := trigger.Stop(ctxt); err != nil {
			return err
		}
	}
	if err := n.Coordinator.Stop(ctxt); err != nil {
		return err
	}
	if err := n.Manager.Stop(ctxt); err != nil {
		return err
	}
	if err := n.reaper.Stop(ctxt); err != nil {
		return err
	}
	if n.archiver != nil {
		if err := n.archiver.Stop(ctxt); err != nil {
			return err
		}
	}
	for _, connector := range n.connectors {
		if err := connector.Close(); err != nil {
			log.WithError(err).WithField("identity", connector.Identity()).Error("Session close failed")
		}
	}
	if n.psClient != nil {
		if err := n.psClient.Close(ctxt); err != nil {
			return err
		}
	}
	n.ctxtCancel()
	return nil
}

/*
DefineRecorderNode setup new recorder node

	@param parentCtxt context.Context - parent execution context
	@param nodeName string - recorder node name
	@param config common.RecorderNodeConfig - recorder node configuration
	@param dbPassword string - recording index Postgres password, if Postgres is used
	@returns new recorder node
*/
func DefineRecorderNode(
	parentCtxt context.Context,
	nodeName string,
	config common.RecorderNodeConfig,
	dbPassword string,
) (RecorderNode, error) {
	/*
		Steps for preparing the recorder are

		* Prepare recording index and local storage
		* Prepare archiver, if enabled
		* Prepare metrics
		* Open a gateway session per identity
		* Prepare event broadcast
		* Prepare recording manager
		* Prepare reaper
		* Prepare restart coordinator and triggers
		* Claim recordings handed off by the previous process
		* Prepare API servers
	*/
	logTags := log.Fields{"module": "bin", "component": "recorder-node", "instance": nodeName}

	theNode := RecorderNode{}
	theNode.nodeRuntimeCtxt, theNode.ctxtCancel = context.WithCancel(parentCtxt)

	// ====================================================================================
	// Prepare recording index and local storage

	index, err := db.NewManager(
		db.GetRecordingIndexDialector(config.Index, dbPassword), logger.Error,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recording index")
		return theNode, err
	}

	store, err := storage.NewStore(config.Storage.Dir)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recording storage")
		return theNode, err
	}

	// ====================================================================================
	// Prepare archiver

	if config.Archive.Enabled {
		s3Client, err := utils.NewS3Client(*config.Archive.S3)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define S3 client")
			return theNode, err
		}
		theNode.archiver, err = forwarder.NewS3RecordingArchiver(
			theNode.nodeRuntimeCtxt, config.Archive, store, index, s3Client, nil,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define recording archiver")
			return theNode, err
		}
	}

	// ====================================================================================
	// Prepare metrics

	registry := prometheus.NewRegistry()
	if config.Metrics.Features.EnableAppMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics, err := recorder.NewMetrics(registry)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recorder metrics")
		return theNode, err
	}

	// ====================================================================================
	// Open gateway sessions

	identities := []recorder.Identity{}
	for idx, identity := range config.Identities.All() {
		token := os.Getenv(identity.TokenEnv)
		if token == "" {
			err := fmt.Errorf("identity '%s' token env '%s' is empty", identity.Name, identity.TokenEnv)
			log.WithError(err).WithFields(logTags).Error("Missing identity token")
			return theNode, err
		}
		session, err := voice.OpenDiscordSession(token)
		if err != nil {
			log.
				WithError(err).
				WithFields(logTags).
				WithField("identity-name", identity.Name).
				Error("Unable to open gateway session")
			return theNode, err
		}
		connector := voice.NewDiscordConnector(
			idx,
			session,
			config.Session.EventQueueLen,
			log.Fields{"module": "voice", "component": "connector", "identity-name": identity.Name},
		)
		theNode.connectors = append(theNode.connectors, connector)
		identities = append(identities, recorder.Identity{Connector: connector, Nick: identity.Nick})
	}

	notifier := voice.NewNotifier(
		theNode.connectors[0].Session(), log.Fields{"module": "voice", "component": "notifier"},
	)

	// ====================================================================================
	// Prepare event broadcast

	broadcasters := []utils.Broadcaster{utils.NewLogBroadcaster()}
	if config.BroadcastSystem.PubSub != nil {
		theNode.psClient, err = buildPubSubClient(
			theNode.nodeRuntimeCtxt, config.BroadcastSystem.PubSub.GCPProject,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define PubSub client")
			return theNode, err
		}
		psBroadcaster, err := utils.NewPubSubBroadcaster(
			theNode.psClient, config.BroadcastSystem.PubSub.Topic,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define PubSub broadcaster")
			return theNode, err
		}
		broadcasters = append(broadcasters, psBroadcaster)
	}
	eventForwarder := forwarder.NewEventForwarder(utils.NewFanOutBroadcaster(broadcasters...))

	// ====================================================================================
	// Prepare recording manager

	params := recorder.ManagerParams{
		Identities:     identities,
		Notifier:       notifier,
		Store:          store,
		Index:          index,
		Listeners:      []recorder.EventListener{eventForwarder},
		Metrics:        metrics,
		Limits:         config.Limits,
		Session:        config.Session,
		DownloadURL:    config.Download.PublicURL,
		PlaceholderTTL: config.Handoff.PlaceholderTTL(),
		OccupancyInt:   config.Occupancy.ReportInt(),
	}
	if theNode.archiver != nil {
		params.Archiver = theNode.archiver
	}
	theNode.Manager, err = recorder.NewManager(theNode.nodeRuntimeCtxt, params)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recording manager")
		return theNode, err
	}
	for _, connector := range theNode.connectors {
		connector.Watcher().SetHandler(theNode.Manager)
	}

	// ====================================================================================
	// Prepare reaper

	var archiveRemover storage.ArchiveRemover
	if theNode.archiver != nil {
		archiveRemover = theNode.archiver
	}
	theNode.reaper, err = storage.NewReaper(
		theNode.nodeRuntimeCtxt,
		store,
		index,
		archiveRemover,
		theNode.Manager.InUse,
		config.Storage.ReaperInt(),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recording reaper")
		return theNode, err
	}

	// ====================================================================================
	// Prepare restart coordinator

	coordParams := handoff.CoordinatorParams{
		Drainer:    theNode.Manager,
		DrainGrace: config.Handoff.DrainGrace(),
		MaxDrain:   config.Handoff.MaxDrain(),
	}
	var supervisor handoff.SupervisorClient
	if config.Handoff.SupervisorURL != nil {
		supervisorURL, err := url.Parse(*config.Handoff.SupervisorURL)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Supervisor URL is not valid")
			return theNode, err
		}
		httpClient, err := utils.DefineHTTPClient(config.Handoff.Client)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define supervisor HTTP client")
			return theNode, err
		}
		supervisor, err = handoff.NewSupervisorClient(
			supervisorURL, config.Handoff.RequestIDHeader, httpClient,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define supervisor client")
			return theNode, err
		}
		coordParams.Supervisor = supervisor
	} else {
		coordParams.Respawner, err = handoff.NewSelfRespawner(config.Storage.Dir)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define self respawner")
			return theNode, err
		}
	}
	theNode.Coordinator, err = handoff.NewCoordinator(theNode.nodeRuntimeCtxt, coordParams)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define restart coordinator")
		return theNode, err
	}

	if uptime := config.Handoff.UptimeRestart(); uptime > 0 {
		trigger, err := handoff.NewUptimeTrigger(theNode.nodeRuntimeCtxt, uptime, theNode.Coordinator)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define uptime restart trigger")
			return theNode, err
		}
		theNode.triggers = append(theNode.triggers, trigger)
	}
	if config.Handoff.TriggerDir != nil {
		trigger, err := handoff.NewFileTrigger(
			theNode.nodeRuntimeCtxt, *config.Handoff.TriggerDir, theNode.Coordinator,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define file restart trigger")
			return theNode, err
		}
		theNode.triggers = append(theNode.triggers, trigger)
	}

	// ====================================================================================
	// Claim handed off recordings

	if err := theNode.claimHandoff(supervisor, logTags); err != nil {
		return theNode, err
	}

	// ====================================================================================
	// Prepare API servers

	if config.Management.Enabled {
		theNode.MgmtAPIServer, err = api.BuildRecordingManagementServer(
			config.Management, theNode.Manager, theNode.Coordinator,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define management API server")
			return theNode, err
		}
	}
	if config.Download.APIServer.Enabled {
		theNode.DownloadAPIServer, err = api.BuildDownloadServer(
			config.Download, store, theNode.reaper,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define download API server")
			return theNode, err
		}
	}
	if config.Metrics.Enabled {
		theNode.MetricsServer, err = api.BuildMetricsServer(config.Metrics, registry)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define metrics server")
			return theNode, err
		}
	}

	return theNode, nil
}

// claimHandoff take over the recordings of the process this one replaced
func (n RecorderNode) claimHandoff(supervisor handoff.SupervisorClient, logTags log.Fields) error {
	var snapshot common.HandoffSnapshot
	if snapshotFile := os.Getenv(handoff.SnapshotFileEnv); snapshotFile != "" {
		var err error
		snapshot, err = handoff.TakeSnapshotFile(snapshotFile)
		if err != nil {
			log.
				WithError(err).
				WithFields(logTags).
				WithField("snapshot", snapshotFile).
				Error("Unable to read handoff snapshot file")
			return err
		}
	} else if supervisor != nil {
		var err error
		snapshot, err = supervisor.FetchSnapshot(n.nodeRuntimeCtxt)
		if err != nil {
			log.WithError(err).WithFields(logTags).Warn("Unable to fetch handoff snapshot")
			return nil
		}
	}
	if snapshot.Entries() == 0 {
		return nil
	}

	restored, err := n.Manager.RestoreSnapshot(n.nodeRuntimeCtxt, snapshot)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to restore handoff snapshot")
		return err
	}
	log.WithFields(logTags).WithField("restored", restored).Info("Claimed handed off recordings")
	return nil
}
