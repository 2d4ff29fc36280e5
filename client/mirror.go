package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/model/registry"
	"github.com/appbaseio/upgrade-assistant/util"
)

// Mirror fetches the function catalog of the server at baseURL and
// registers a stub in functions for every server function that is not
// already known locally. Stubs resolve all of their arguments locally and
// run the call through batcher; results are deserialized with types. It
// returns the number of functions mirrored.
func Mirror(ctx context.Context, baseURL string, functions *registry.FunctionRegistry, types *registry.TypeRegistry, batcher *Batcher) (int, error) {
	defs, err := fetchCatalog(ctx, strings.TrimRight(baseURL, "/")+fnsPath)
	if err != nil {
		return 0, err
	}

	mirrored := 0
	for _, def := range defs {
		if _, ok := functions.GetByAlias(def.Name); ok {
			continue
		}
		for _, arg := range def.Args {
			// the server can not call back into local resolvers
			arg.Resolve = nil
		}
		def.Fn = remoteFn(def.Name, types, batcher)
		if err := functions.Register(def); err != nil {
			return mirrored, err
		}
		mirrored++
	}
	log.Println(logTag, ": mirrored", mirrored, "of", len(defs), "server functions")
	return mirrored, nil
}

func remoteFn(name string, types *registry.TypeRegistry, batcher *Batcher) registry.Fn {
	return func(ctx context.Context, input registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
		out, err := batcher.Call(name, input, args).Wait(ctx)
		if err != nil {
			return nil, err
		}
		return types.Deserialize(out)
	}
}

func fetchCatalog(ctx context.Context, url string) ([]*registry.FnDef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := util.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch function catalog: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("can't read function catalog: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("function catalog request failed with status %d: %s", resp.StatusCode, raw)
	}

	var catalog struct {
		Functions []*registry.FnDef `json:"functions"`
	}
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("invalid function catalog: %v", err)
	}
	return catalog.Functions, nil
}
