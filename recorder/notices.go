package recorder

import (
	"fmt"
	"strconv"

	"github.com/alwitt/voxmux/voice"
)

const (
	noticeTimeLimit = "Sorry, but you've hit the recording time limit. Recording stopped."
	noticeSizeLimit = "Sorry, but you've hit the recording size limit. Recording stopped."
	noticeNoData    = "I'm not receiving any data! Disconnecting."
	noticeIdle      = "Hello? I haven't heard anything for five minutes. Has something gone " +
		"wrong, are you just taking a break, or have you forgotten to stop the recording? If " +
		"it's just a break, disregard this message!"
	noticeUnexpectedDisconnect = "I've been unexpectedly disconnected! If you want me to stop " +
		"recording, please command me to with stop."
	noticeNickPermission = "I do not have permission to change my nickname on this server. " +
		"I will not record without this permission."
	noticeIOError = "Something went wrong writing the recording. Recording stopped."
)

func privateNotice(text string) voice.Notice {
	return voice.Notice{Private: true, Text: text}
}

func publicNotice(text string) voice.Notice {
	return voice.Notice{Private: false, Text: text}
}

func joinFailedNotice(err error) voice.Notice {
	return publicNotice(fmt.Sprintf("Failed to join! %s", err.Error()))
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', -1, 64)
}

/*
startedNotice the notice sent once recording begins

	@param recordHours float64 - record time limit in hours
	@param retentionHours float64 - hours until the recording is deleted
	@param links Links - download and delete links
	@returns the notice
*/
func startedNotice(recordHours, retentionHours float64, links Links) voice.Notice {
	return voice.Notice{
		Private: true,
		Text: fmt.Sprintf(
			"Recording! I will record up to %s hours. Recordings are deleted automatically "+
				"after %s hours from the start of recording. The audio can be downloaded even "+
				"while I'm still recording.\n\nDownload link: %s",
			formatHours(recordHours), formatHours(retentionHours), links.Download,
		),
		PrivateDetail: fmt.Sprintf("To delete: %s\n.", links.Delete),
	}
}
