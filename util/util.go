package util

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const logTag = "[util]"

var (
	once   sync.Once
	client *http.Client
)

// WriteBackMessage writes the given message as a json response to the response writer.
func WriteBackMessage(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	msg := map[string]interface{}{
		"code":    code,
		"status":  http.StatusText(code),
		"message": message,
	}
	err := json.NewEncoder(w).Encode(msg)
	if err != nil {
		log.Errorln(logTag, ": unable to write back message:", err)
	}
}

// WriteBackError writes the given error message as a json response to the response writer.
func WriteBackError(w http.ResponseWriter, err string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	msg := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"status":  http.StatusText(code),
			"message": err,
		},
	}
	json.NewEncoder(w).Encode(msg)
}

// WriteBackRaw writes the given json encoded bytes to the response writer.
func WriteBackRaw(w http.ResponseWriter, raw []byte, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write(raw)
}

// WriteBackJSON marshals v and writes it to the response writer.
func WriteBackJSON(w http.ResponseWriter, v interface{}, code int) {
	raw, err := json.Marshal(v)
	if err != nil {
		WriteBackError(w, "unable to marshal response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	WriteBackRaw(w, raw, code)
}

// HTTPClient returns the shared http client used for outgoing requests.
func HTTPClient() *http.Client {
	once.Do(func() {
		var netTransport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: os.Getenv("ES_INSECURE_TLS") == "true"},
		}
		var netClient = &http.Client{
			Timeout:   time.Minute * 2,
			Transport: netTransport,
		}
		client = netClient
	})
	return client
}

// GetEnv returns the value of the env variable key, or def when it is not set.
func GetEnv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

// GetEnvBool parses the env variable key as a bool. Unset or invalid
// values fall back to def.
func GetEnvBool(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnln(logTag, ": invalid boolean for", key, ":", value)
		return def
	}
	return b
}

// GetEnvDuration parses the env variable key as a time.Duration.
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}
	return time.ParseDuration(value)
}
