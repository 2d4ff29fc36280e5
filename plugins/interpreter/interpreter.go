package interpreter

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/middleware"
	"github.com/appbaseio/upgrade-assistant/middleware/ratelimiter"
	interp "github.com/appbaseio/upgrade-assistant/model/interpreter"
	"github.com/appbaseio/upgrade-assistant/model/registry"
	"github.com/appbaseio/upgrade-assistant/model/types"
	"github.com/appbaseio/upgrade-assistant/plugins"
	"github.com/appbaseio/upgrade-assistant/util"
)

const (
	logTag = "[interpreter]"

	envInterpreterEnv = "INTERPRETER_ENV"
	envESFunctions    = "INTERPRETER_ES_FUNCTIONS"
	envRateLimit      = "INTERPRETER_RATE_LIMIT"
)

var (
	singleton *interpreter
	once      sync.Once
)

type interpreter struct {
	types       *registry.TypeRegistry
	functions   *registry.FunctionRegistry
	interpreter *interp.Interpreter
	limit       middleware.Middleware
}

// Instance returns the singleton of the interpreter plugin.
func Instance() *interpreter {
	once.Do(func() { singleton = &interpreter{} })
	return singleton
}

// Name returns the name of the plugin: [interpreter]
func (ip *interpreter) Name() string {
	return logTag
}

// InitFunc registers the builtin types and server functions. The
// elasticsearch backed functions are handed the shared client when
// INTERPRETER_ES_FUNCTIONS is enabled. Calls are rate limited per remote ip
// when INTERPRETER_RATE_LIMIT is set.
func (ip *interpreter) InitFunc() error {
	if rate := util.GetEnv(envRateLimit, ""); rate != "" {
		rl, err := ratelimiter.New(rate)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", envRateLimit, err)
		}
		ip.limit = rl.Limit()
	}
	handlers := registry.Handlers{"environment": "server"}
	if util.GetEnvBool(envESFunctions, true) {
		client, err := util.GetClient7()
		if err != nil {
			log.Warnln(logTag, ": elasticsearch functions are disabled:", err)
		} else {
			handlers[handlerESClient] = client
		}
	}
	return ip.init(handlers, util.GetEnv(envInterpreterEnv, "") == "production")
}

func (ip *interpreter) init(handlers registry.Handlers, production bool) error {
	ip.types = registry.NewTypeRegistry()
	if err := types.Register(ip.types); err != nil {
		return err
	}
	ip.functions = registry.NewFunctionRegistry()
	for _, def := range builtinFunctions() {
		if err := ip.functions.Register(def); err != nil {
			return err
		}
	}
	ip.interpreter = interp.New(ip.types, ip.functions, handlers, interp.Production(production))
	log.Println(logTag, ": initialized with", len(ip.functions.All()), "functions")
	return nil
}

// Routes returns the interpreter routes.
func (ip *interpreter) Routes() []plugins.Route {
	return ip.routes()
}
