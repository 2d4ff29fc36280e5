package plugins

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const logTag = "[registry]"

var (
	mu sync.Mutex
	// plugins is a map of a unique identifier, usually the plugin name,
	// to the Plugin.
	plugins = make(map[string]Plugin)
)

// Plugin is a type that holds information about the plugin.
type Plugin interface {
	// Name returns the name of the plugin. Name of the plugin must be
	// unique as it is used as the key in the plugins map.
	Name() string

	// InitFunc is the plugin's setup function that is executed
	// before the plugin routes are loaded in the router.
	InitFunc() error

	// Routes returns the http routes that a plugin handles.
	Routes() []Route
}

// RegisterPlugin plugs in plugin. All plugins must have a unique name.
func RegisterPlugin(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin must have a name")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := plugins[name]; dup {
		return fmt.Errorf("plugin named %s is already registered", name)
	}
	plugins[name] = p
	return nil
}

// LoadPlugin executes the plugin's InitFunc and then registers the
// routes associated with the plugin to the router.
func LoadPlugin(router *mux.Router, p Plugin) error {
	log.Println(logTag, ": initializing plugin:", p.Name())
	if err := p.InitFunc(); err != nil {
		return fmt.Errorf("%s: error initializing plugin %s: %v", logTag, p.Name(), err)
	}
	routes := p.Routes()
	// register longer paths first so that static segments win over variables
	RouteBy(func(r1, r2 Route) bool {
		return strings.Count(r1.Path, "/") > strings.Count(r2.Path, "/")
	}).RouteSort(routes)
	for _, r := range routes {
		err := router.Methods(r.Methods...).
			Name(r.Name).
			Path(r.Path).
			HandlerFunc(r.HandlerFunc).
			GetError()
		if err != nil {
			return err
		}
	}
	return nil
}

// ListPluginsStr returns a string listing the registered plugins.
func ListPluginsStr() string {
	str := "Registered plugins:\n"
	pl := ListPlugins()
	for i := 0; i < len(pl); i++ {
		str += "\t" + strconv.Itoa(i+1) + ". " + pl[i].Name() + "\n"
	}
	return str
}

// ListPlugins returns the registered plugins sorted by name.
func ListPlugins() []Plugin {
	mu.Lock()
	defer mu.Unlock()
	list := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}
