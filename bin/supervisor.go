package bin

import (
	"net/http"

	"github.com/alwitt/voxmux/api"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/apex/log"
)

// SupervisorNode the process keeping a recorder running across restarts
type SupervisorNode struct {
	Supervisor handoff.Supervisor
	APIServer  *http.Server
}

/*
DefineSupervisorNode setup new supervisor node

	@param nodeName string - supervisor node name
	@param config common.SupervisorNodeConfig - supervisor node configuration
	@returns new supervisor node
*/
func DefineSupervisorNode(
	nodeName string, config common.SupervisorNodeConfig,
) (SupervisorNode, error) {
	logTags := log.Fields{"module": "bin", "component": "supervisor-node", "instance": nodeName}

	theNode := SupervisorNode{}

	executable := ""
	if config.Recorder.Executable != nil {
		executable = *config.Recorder.Executable
	}
	launcher, err := handoff.NewExecLauncher(executable, config.Recorder.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define recorder launcher")
		return theNode, err
	}

	theNode.Supervisor = handoff.NewSupervisor(
		config.LockFile, launcher, config.Recorder.RestartBackoff(),
	)

	theNode.APIServer, err = api.BuildSupervisorServer(config.APIServer, theNode.Supervisor)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define supervisor API server")
		return theNode, err
	}

	return theNode, nil
}
