package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/profile"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/appbaseio/upgrade-assistant/middleware/logger"
	"github.com/appbaseio/upgrade-assistant/middleware/panic"
	"github.com/appbaseio/upgrade-assistant/plugins"
	"github.com/appbaseio/upgrade-assistant/plugins/interpreter"
	"github.com/appbaseio/upgrade-assistant/plugins/reindexer"
)

const logTag = "[cmd]"

var (
	envFile     string
	logMode     string
	logFile     string
	listPlugins bool
	address     string
	port        int
	https       bool
	cpuprofile  bool
	// Version is set during build
	Version string
)

func init() {
	flag.StringVar(&envFile, "env", ".env", "Path to file with environment variables to load in KEY=VALUE format")
	flag.StringVar(&logMode, "log", "", "Define to change the default log mode(error), other options are: debug(most verbose) and info")
	flag.StringVar(&logFile, "logFile", "", "Write logs to a rotated file instead of stderr")
	flag.BoolVar(&listPlugins, "plugins", false, "List currently registered plugins")
	flag.StringVar(&address, "addr", "0.0.0.0", "Address to serve on")
	// env port for deployments where port is dynamically assigned
	defaultPort := 8000
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			defaultPort = p
		}
	}
	flag.IntVar(&port, "port", defaultPort, "Port number")
	flag.BoolVar(&https, "https", false, "Starts a https server instead of a http server if true")
	flag.BoolVar(&cpuprofile, "cpuprofile", false, "write cpu profile to `file`")
}

func main() {
	flag.Parse()
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        "2006/01/02 15:04:05",
		DisableLevelTruncation: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})
	if logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxAge:     14,
			MaxBackups: 10,
		})
	}

	// add cpu profilling
	if cpuprofile {
		defer profile.Start().Stop()
	}

	switch logMode {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}

	// Load all env vars from envFile
	if err := LoadEnvFromFile(envFile); err != nil {
		log.Infoln(logTag, ": reading env file", envFile, ". This may happen if the environments are declared directly : ", err)
	}
	if Version != "" {
		log.Println(logTag, ": upgrade assistant", Version)
	}

	for _, p := range []plugins.Plugin{reindexer.Instance(), interpreter.Instance()} {
		if err := plugins.RegisterPlugin(p); err != nil {
			log.Fatal(logTag, ": ", err)
		}
	}
	if listPlugins {
		fmt.Println(plugins.ListPluginsStr())
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, p := range plugins.ListPlugins() {
		if err := plugins.LoadPlugin(router, p); err != nil {
			log.Fatal("error loading plugins: ", err)
		}
	}

	// CORS policy
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"*"},
	})
	handler := c.Handler(router)
	handler = panic.Recovery(handler)
	// Add logger middleware
	handler = logger.Log(handler)

	// Listen and serve ...
	addr := fmt.Sprintf("%s:%d", address, port)
	log.Println(logTag, ":listening on", addr)
	if https {
		httpsCert := os.Getenv("HTTPS_CERT")
		httpsKey := os.Getenv("HTTPS_KEY")
		log.Fatal(http.ListenAndServeTLS(addr, httpsCert, httpsKey, handler))
	} else {
		log.Fatal(http.ListenAndServe(addr, handler))
	}
}

// LoadEnvFromFile loads env vars from envFile. Envs in the file
// should be in KEY=VALUE format.
func LoadEnvFromFile(envFile string) error {
	if envFile == "" {
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return err
	}
	defer file.Close()

	envMap, err := ParseEnvFile(file)
	if err != nil {
		return err
	}

	for k, v := range envMap {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}

	return nil
}

// ParseEnvFile parses the envFile for env variables in present in
// KEY=VALUE format. It ignores the comment lines starting with "#".
func ParseEnvFile(envFile io.Reader) (map[string]string, error) {
	envMap := make(map[string]string)

	scanner := bufio.NewScanner(envFile)
	lineNumber := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNumber++

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, "=", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("can't parse line %d; line should be in KEY=VALUE format", lineNumber)
		}
		key, value := fields[0], fields[1]
		if key == "" {
			return nil, fmt.Errorf("can't parse line %d; KEY can't be empty string", lineNumber)
		}
		if strings.Contains(key, " ") {
			return nil, fmt.Errorf("can't parse line %d; KEY contains whitespace", lineNumber)
		}
		envMap[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return envMap, nil
}
