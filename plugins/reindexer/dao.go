package reindexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/buger/jsonparser"
	es7 "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

type elasticsearch struct {
	client *es7.Client
}

func newCluster(client *es7.Client) *elasticsearch {
	return &elasticsearch{client}
}

func (es *elasticsearch) perform(ctx context.Context, method, path string, params url.Values, body interface{}, ignore ...int) (*es7.Response, error) {
	requestOptions := es7.PerformRequestOptions{
		Method:       method,
		Path:         path,
		Params:       params,
		Body:         body,
		IgnoreErrors: ignore,
	}
	response, err := es.client.PerformRequest(ctx, requestOptions)
	if err != nil {
		log.Errorln(logTag, ":", method, path, ":", err)
		return nil, err
	}
	return response, nil
}

func (es *elasticsearch) acknowledged(ctx context.Context, method, path string, params url.Values, body interface{}) (bool, error) {
	response, err := es.perform(ctx, method, path, params, body)
	if err != nil {
		return false, err
	}
	ack, err := jsonparser.GetBoolean(response.Body, "acknowledged")
	if err != nil {
		return false, nil
	}
	return ack, nil
}

func (es *elasticsearch) nodeVersions(ctx context.Context) ([]nodeVersion, error) {
	response, err := es.perform(ctx, http.MethodGet, "/_nodes", nil, nil)
	if err != nil {
		return nil, err
	}
	var nodes []nodeVersion
	err = jsonparser.ObjectEach(response.Body, func(key []byte, value []byte, _ jsonparser.ValueType, _ int) error {
		name, _ := jsonparser.GetString(value, "name")
		version, err := jsonparser.GetString(value, "version")
		if err != nil {
			return fmt.Errorf("node %s has no version: %v", string(key), err)
		}
		nodes = append(nodes, nodeVersion{Name: name, Version: version})
		return nil
	}, "nodes")
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

func (es *elasticsearch) indexExists(ctx context.Context, index string) (bool, error) {
	return es.client.IndexExists(index).Do(ctx)
}

// flatSettings returns nil when the index does not exist.
func (es *elasticsearch) flatSettings(ctx context.Context, index string) (*reindex.FlatSettings, error) {
	params := url.Values{}
	params.Set("flat_settings", "true")
	response, err := es.perform(ctx, http.MethodGet, "/"+url.PathEscape(index), params, nil, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var indices map[string]*reindex.FlatSettings
	if err := json.Unmarshal(response.Body, &indices); err != nil {
		return nil, err
	}
	return pickIndex(indices, index), nil
}

func (es *elasticsearch) mappingsOf(ctx context.Context, index string) (map[string]interface{}, error) {
	response, err := es.perform(ctx, http.MethodGet, "/"+url.PathEscape(index)+"/_mapping", nil, nil)
	if err != nil {
		return nil, err
	}
	var indices map[string]*reindex.FlatSettings
	if err := json.Unmarshal(response.Body, &indices); err != nil {
		return nil, err
	}
	flat := pickIndex(indices, index)
	if flat == nil {
		return nil, fmt.Errorf("no mappings returned for index %s", index)
	}
	return flat.Mappings, nil
}

// pickIndex returns the entry for index, or the only entry when index is an alias.
func pickIndex(indices map[string]*reindex.FlatSettings, index string) *reindex.FlatSettings {
	if flat, ok := indices[index]; ok {
		return flat
	}
	if len(indices) == 1 {
		for _, flat := range indices {
			return flat
		}
	}
	return nil
}

func (es *elasticsearch) putWriteBlock(ctx context.Context, index string, blocked bool) (bool, error) {
	response, err := es.client.IndexPutSettings(index).
		BodyJson(map[string]interface{}{"index.blocks.write": blocked}).
		Do(ctx)
	if err != nil {
		return false, err
	}
	return response.Acknowledged, nil
}

func (es *elasticsearch) createIndex(ctx context.Context, index string, settings, mappings map[string]interface{}) (bool, error) {
	if index == "" {
		return false, fmt.Errorf("missing index name")
	}
	body := map[string]interface{}{}
	if len(settings) > 0 {
		body["settings"] = settings
	}
	if len(mappings) > 0 {
		body["mappings"] = mappings
	}
	response, err := es.client.CreateIndex(index).BodyJson(body).Do(ctx)
	if err != nil {
		return false, err
	}
	return response.Acknowledged, nil
}

func (es *elasticsearch) deleteIndex(ctx context.Context, index string) error {
	_, err := es.client.DeleteIndex(index).Do(ctx)
	return err
}

// aliasesOf returns the aliases of index with their filter and routing attributes.
func (es *elasticsearch) aliasesOf(ctx context.Context, index string) (map[string]map[string]interface{}, error) {
	response, err := es.perform(ctx, http.MethodGet, "/"+url.PathEscape(index)+"/_alias", nil, nil)
	if err != nil {
		return nil, err
	}
	var indices map[string]struct {
		Aliases map[string]map[string]interface{} `json:"aliases"`
	}
	if err := json.Unmarshal(response.Body, &indices); err != nil {
		return nil, err
	}
	aliases := map[string]map[string]interface{}{}
	if entry, ok := indices[index]; ok {
		for name, attrs := range entry.Aliases {
			if attrs == nil {
				attrs = map[string]interface{}{}
			}
			aliases[name] = attrs
		}
	}
	return aliases, nil
}

func (es *elasticsearch) updateAliases(ctx context.Context, actions []map[string]interface{}) (bool, error) {
	body := map[string]interface{}{"actions": actions}
	return es.acknowledged(ctx, http.MethodPost, "/_aliases", nil, body)
}

func (es *elasticsearch) startReindex(ctx context.Context, source, dest string, script *es7.Script) (string, error) {
	service := es.client.Reindex().
		SourceIndex(source).
		DestinationIndex(dest).
		Refresh("true").
		WaitForCompletion(false)
	if script != nil {
		service = service.Script(script)
	}
	result, err := service.DoAsync(ctx)
	if err != nil {
		return "", err
	}
	return result.TaskId, nil
}

// getTask returns the raw task response.
func (es *elasticsearch) getTask(ctx context.Context, taskID string) ([]byte, error) {
	response, err := es.perform(ctx, http.MethodGet, "/_tasks/"+url.PathEscape(taskID), nil, nil)
	if err != nil {
		return nil, err
	}
	return response.Body, nil
}

func (es *elasticsearch) cancelTask(ctx context.Context, taskID string) ([]byte, error) {
	response, err := es.perform(ctx, http.MethodPost, "/_tasks/"+url.PathEscape(taskID)+"/_cancel", nil, nil)
	if err != nil {
		return nil, err
	}
	return response.Body, nil
}

// deleteTaskDoc removes the stored task result and returns the delete result,
// "deleted" on success.
func (es *elasticsearch) deleteTaskDoc(ctx context.Context, taskID string) (string, error) {
	response, err := es.perform(ctx, http.MethodDelete, "/.tasks/_doc/"+url.PathEscape(taskID), nil, nil, http.StatusNotFound)
	if err != nil {
		return "", err
	}
	result, err := jsonparser.GetString(response.Body, "result")
	if err != nil {
		return "", fmt.Errorf("unexpected task delete response: %s", string(response.Body))
	}
	return result, nil
}

func (es *elasticsearch) count(ctx context.Context, index string) (int64, error) {
	return es.client.Count(index).Do(ctx)
}

// securityEnabled reports whether security is available and enabled. Clusters
// without x-pack report false.
func (es *elasticsearch) securityEnabled(ctx context.Context) (bool, error) {
	response, err := es.perform(ctx, http.MethodGet, "/_xpack", nil, nil, http.StatusBadRequest, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	if response.StatusCode >= 300 {
		return false, nil
	}
	available, _ := jsonparser.GetBoolean(response.Body, "features", "security", "available")
	enabled, _ := jsonparser.GetBoolean(response.Body, "features", "security", "enabled")
	return available && enabled, nil
}

func (es *elasticsearch) hasPrivileges(ctx context.Context, body map[string]interface{}) (bool, error) {
	response, err := es.perform(ctx, http.MethodPost, "/_security/user/_has_privileges", nil, body)
	if err != nil {
		return false, err
	}
	return jsonparser.GetBoolean(response.Body, "has_all_requested")
}

func (es *elasticsearch) setMLUpgradeMode(ctx context.Context, enabled bool) (bool, error) {
	params := url.Values{}
	params.Set("enabled", strconv.FormatBool(enabled))
	return es.acknowledged(ctx, http.MethodPost, "/_ml/set_upgrade_mode", params, nil)
}

func (es *elasticsearch) stopWatcher(ctx context.Context) (bool, error) {
	return es.acknowledged(ctx, http.MethodPost, "/_watcher/_stop", nil, nil)
}

func (es *elasticsearch) startWatcher(ctx context.Context) (bool, error) {
	return es.acknowledged(ctx, http.MethodPost, "/_watcher/_start", nil, nil)
}
