package util

import (
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	urlRe         = regexp.MustCompile(`^https?://(www.)?.+\..+$`)
	credentialsRe = regexp.MustCompile(`//(?P<username>[^/:]+):[^/@]+@`)
)

// ESTraceLogger forwards the elastic client's info and trace output to logrus at debug level.
type ESTraceLogger struct{}

// Printf implements elastic.Logger.
func (ESTraceLogger) Printf(format string, vars ...interface{}) {
	scrubCredentials(vars)
	log.Debugln("[elasticsearch: trace] =>", fmt.Sprintf(format, vars...))
}

// ESErrorLogger forwards the elastic client's error output to logrus.
type ESErrorLogger struct{}

// Printf implements elastic.Logger.
func (ESErrorLogger) Printf(format string, vars ...interface{}) {
	scrubCredentials(vars)
	formatted := fmt.Sprintf(format, vars...)
	// deprecation warnings are not actionable here
	if strings.Contains(strings.ToLower(formatted), "deprecation") {
		log.Debugln("[elasticsearch: trace] =>", formatted)
		return
	}
	log.Errorln("[elasticsearch: error] =>", formatted)
}

// scrubCredentials masks the password of any URL present in vars.
func scrubCredentials(vars []interface{}) {
	for i, v := range vars {
		s, ok := v.(string)
		if !ok || !urlRe.MatchString(s) {
			continue
		}
		vars[i] = credentialsRe.ReplaceAllString(s, "//${username}:***@")
	}
}
