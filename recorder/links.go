package recorder

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alwitt/voxmux/common"
)

// Links user facing recording links
type Links struct {
	// Download link to download the recording
	Download string `json:"download_url"`
	// Delete link to delete the recording
	Delete string `json:"delete_url"`
}

/*
BuildLinks define the download and delete links of a recording

	@param baseURL string - download API base URL
	@param keys common.RecordingKeys - recording keys
	@returns the links
*/
func BuildLinks(baseURL string, keys common.RecordingKeys) Links {
	base := fmt.Sprintf("%s/v1/download/%d", strings.TrimRight(baseURL, "/"), keys.ID)
	params := url.Values{}
	params.Set("key", strconv.FormatInt(keys.AccessKey, 10))
	download := base + "?" + params.Encode()
	params.Set("delete", strconv.FormatInt(keys.DeleteKey, 10))
	return Links{Download: download, Delete: base + "?" + params.Encode()}
}
