package util

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	v "github.com/hashicorp/go-version"
	es7 "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
)

const envEsURL = "ES_CLUSTER_URL"

var (
	clientInit sync.Once
	client7    *es7.Client
	clientErr  error
)

// GetClient7 returns the es7 client shared by the plugins, connecting to
// ES_CLUSTER_URL on first use.
func GetClient7() (*es7.Client, error) {
	clientInit.Do(func() {
		var esURL string
		esURL, clientErr = GetESURL()
		if clientErr != nil {
			return
		}
		client7, clientErr = NewClient(esURL)
	})
	return client7, clientErr
}

// GetESURL returns elasticsearch url with escaped auth
func GetESURL() (string, error) {
	esURL := os.Getenv(envEsURL)
	if esURL == "" {
		return "", errors.NewEnvVarNotSetError(envEsURL)
	}
	return escapeCredentials(esURL), nil
}

// escapeCredentials path-escapes the username and password embedded in esURL.
func escapeCredentials(esURL string) string {
	if !strings.Contains(esURL, "@") {
		return esURL
	}
	splitIndex := strings.LastIndex(esURL, "@")
	protocolWithCredentials := strings.SplitN(esURL[0:splitIndex], "://", 2)
	if len(protocolWithCredentials) != 2 {
		return esURL
	}
	protocol, credentials := protocolWithCredentials[0], protocolWithCredentials[1]
	host := esURL[splitIndex+1:]

	separator := strings.Index(credentials, ":")
	if separator < 0 {
		return protocol + "://" + url.PathEscape(credentials) + "@" + host
	}
	username := credentials[0:separator]
	password := credentials[separator+1:]
	return protocol + "://" + url.PathEscape(username) + ":" + url.PathEscape(password) + "@" + host
}

// NewClient instantiates an ES v7 client for the given url.
func NewClient(esURL string) (*es7.Client, error) {
	client, err := es7.NewClient(
		es7.SetURL(esURL),
		es7.SetRetrier(NewRetrier()),
		es7.SetSniff(GetEnvBool("SET_SNIFFING", false)),
		es7.SetHealthcheck(GetEnvBool("SET_HEALTHCHECK", true)),
		es7.SetHttpClient(HTTPClient()),
		es7.SetErrorLog(ESErrorLogger{}),
		es7.SetInfoLog(ESTraceLogger{}),
		es7.SetTraceLog(ESTraceLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("error while initializing elastic v7 client: %v", err)
	}
	log.Println(logTag, ": elasticsearch client instantiated")
	return client, nil
}

// AtLeastMajorMinor reports whether the version string has a major.minor
// greater than or equal to minMajor.minMinor. Patch and pre-release parts
// are ignored.
func AtLeastMajorMinor(version string, minMajor, minMinor int) (bool, error) {
	parsed, err := v.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %v", version, err)
	}
	segments := parsed.Segments()
	major, minor := segments[0], 0
	if len(segments) > 1 {
		minor = segments[1]
	}
	return major > minMajor || (major == minMajor && minor >= minMinor), nil
}
