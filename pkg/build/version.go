package build

import "fmt"

var (
	// version is the built version.
	// Set with ldflags via -ldflags="-X github.com/eclipse-tractusx/dtr-discovery-service/pkg/build.version=v{{.Version}}".
	version string
	// Version is the current version of the discovery service.
	Version string
	// UserAgent is the user agent used for HTTP requests.
	UserAgent string
)

const defaultVersion = "v0.0.0"

func init() {
	if version == "" {
		version = defaultVersion
	}
	Version = version
	UserAgent = fmt.Sprintf("dtr-discovery-service/%s", Version)
}
